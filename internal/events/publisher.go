package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskforge/internal/hooks"
)

// SubjectRoot is the first token of every published subject.
const SubjectRoot = "runs"

// Connect dials NATS with reconnect behavior suited to a long-running
// daemon.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	if logger != nil {
		logger.Info("Connected to NATS", zap.String("url", url))
	}
	return nc, nil
}

// Publisher forwards hook events to NATS. A nil connection disables it.
type Publisher struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewPublisher creates a publisher over an existing connection, which
// the caller owns and closes.
func NewPublisher(nc *nats.Conn, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, logger: logger}
}

// Enabled reports whether events actually leave the process.
func (p *Publisher) Enabled() bool {
	return p.nc != nil
}

// Register subscribes the publisher to every hook type.
func (p *Publisher) Register(hm *hooks.HookManager) {
	hm.RegisterAll(p.Handle)
}

// Subject returns the NATS subject for a run and hook type.
func Subject(runID string, hookType hooks.HookType) string {
	return fmt.Sprintf("%s.%s.%s", SubjectRoot, runID, hookType)
}

// Handle publishes one hook event.
func (p *Publisher) Handle(ctx context.Context, event hooks.Event) error {
	if p.nc == nil {
		return nil
	}
	if event.RunID == "" {
		p.logger.Debug("dropping event without run ID", zap.String("type", string(event.Type)))
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := Subject(event.RunID, event.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
