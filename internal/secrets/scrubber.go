package secrets

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Scrubber detects and redacts secrets from content.
type Scrubber interface {
	// Scrub redacts secrets from the content.
	Scrub(content string) *Result

	// Check detects secrets without redacting.
	Check(content string) *Result

	// IsEnabled returns whether scrubbing is enabled.
	IsEnabled() bool
}

// scrubber is the default implementation backed by gitleaks.
type scrubber struct {
	config   *Config
	detector *detect.Detector

	// gitleaks detectors are not documented as safe for concurrent
	// DetectString calls, so scans are serialized.
	mu sync.Mutex
}

// New creates a new Scrubber with the given configuration.
// If config is nil, DefaultConfig() is used.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !cfg.Enabled {
		return &NoopScrubber{}, nil
	}

	allowlist, err := LoadAllowlists(cfg.ProjectPath, cfg.UserAllowlistPath)
	if err != nil {
		return nil, fmt.Errorf("loading allowlists: %w", err)
	}

	detector, err := newDetector(allowlist, cfg.AllowRegexes)
	if err != nil {
		return nil, err
	}

	return &scrubber{
		config:   cfg,
		detector: detector,
	}, nil
}

// MustNew creates a new Scrubber, panicking on error.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// Scrub redacts secrets from the content.
func (s *scrubber) Scrub(content string) *Result {
	start := time.Now()
	result := &Result{
		Original: content,
		Scrubbed: content,
		Findings: make([]Finding, 0),
		ByRule:   make(map[string]int),
	}

	if content == "" {
		result.Duration = time.Since(start)
		return result
	}

	s.mu.Lock()
	gitleaksFindings := s.detector.DetectString(content)
	s.mu.Unlock()

	// Deterministic order: by position, then rule.
	sort.Slice(gitleaksFindings, func(i, j int) bool {
		if gitleaksFindings[i].StartLine != gitleaksFindings[j].StartLine {
			return gitleaksFindings[i].StartLine < gitleaksFindings[j].StartLine
		}
		return gitleaksFindings[i].RuleID < gitleaksFindings[j].RuleID
	})

	scrubbed := content
	for _, f := range gitleaksFindings {
		result.Findings = append(result.Findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
			SecretLen:   len(f.Secret),
		})
		result.ByRule[f.RuleID]++

		// Replace by matched text rather than reported columns; column
		// conventions differ across gitleaks sources, the secret bytes
		// do not. Overlapping rules simply find nothing on the second
		// pass.
		if f.Secret != "" {
			marker := fmt.Sprintf("[REDACTED:%s]", f.RuleID)
			scrubbed = strings.ReplaceAll(scrubbed, f.Secret, marker)
		}
	}

	result.TotalFindings = len(result.Findings)
	result.Scrubbed = scrubbed
	result.Duration = time.Since(start)
	return result
}

// Check detects secrets without redacting.
func (s *scrubber) Check(content string) *Result {
	result := s.Scrub(content)
	result.Scrubbed = result.Original
	return result
}

// IsEnabled returns whether scrubbing is enabled.
func (s *scrubber) IsEnabled() bool {
	return s.config.Enabled
}

// NoopScrubber is a scrubber that does nothing (for testing or
// disabled mode).
type NoopScrubber struct{}

// Scrub returns content unchanged.
func (n *NoopScrubber) Scrub(content string) *Result {
	return &Result{
		Original:      content,
		Scrubbed:      content,
		Findings:      make([]Finding, 0),
		ByRule:        make(map[string]int),
		TotalFindings: 0,
	}
}

// Check returns content unchanged.
func (n *NoopScrubber) Check(content string) *Result {
	return n.Scrub(content)
}

// IsEnabled returns false.
func (n *NoopScrubber) IsEnabled() bool {
	return false
}

// Compile-time check that both implementations satisfy Scrubber.
var _ Scrubber = (*scrubber)(nil)
var _ Scrubber = (*NoopScrubber)(nil)
