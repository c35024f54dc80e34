package escalation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIssueFiler_Validation(t *testing.T) {
	_, err := NewIssueFiler(context.Background(), IssueConfig{Owner: "acme", Repo: "pipelines"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token not set")

	_, err = NewIssueFiler(context.Background(), IssueConfig{Token: "tok", Owner: "acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner and repo")
}

func TestIssueFiler_File(t *testing.T) {
	var received struct {
		Title  string    `json:"title"`
		Body   string    `json:"body"`
		Labels *[]string `json:"labels"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/acme/pipelines/issues", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"number": 7, "html_url": "https://github.com/acme/pipelines/issues/7"}`))
	}))
	defer srv.Close()

	filer, err := NewIssueFiler(context.Background(), IssueConfig{
		Token:  "tok",
		Owner:  "acme",
		Repo:   "pipelines",
		Labels: []string{"escalation"},
	})
	require.NoError(t, err)

	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	filer.client.BaseURL = base

	got, err := filer.File(context.Background(), "Pipeline escalation: migrate billing tables", "## Pipeline run escalated")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/pipelines/issues/7", got)

	assert.Equal(t, "Pipeline escalation: migrate billing tables", received.Title)
	assert.Contains(t, received.Body, "escalated")
	require.NotNil(t, received.Labels)
	assert.Equal(t, []string{"escalation"}, *received.Labels)
}

func TestIssueFiler_File_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	filer, err := NewIssueFiler(context.Background(), IssueConfig{Token: "tok", Owner: "acme", Repo: "pipelines"})
	require.NoError(t, err)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	filer.client.BaseURL = base

	_, err = filer.File(context.Background(), "t", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create issue")
}
