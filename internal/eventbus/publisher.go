// Package eventbus publishes scan summaries to NATS.
package eventbus

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const DefaultSubject = "bridgewatch.health"

type Config struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

func (c Config) Enabled() bool { return c.URL != "" }

// Summary is the message sent once per scan run.
type Summary struct {
	TraceID     string    `json:"trace_id"`
	Action      string    `json:"action"`
	GeneratedAt time.Time `json:"generated_at"`
	Sources     int       `json:"sources"`
	Scanned     int       `json:"scanned"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
	Flagged     int       `json:"flagged"`
	Rows        any       `json:"rows"`
}

type conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

type Publisher struct {
	conn    conn
	subject string
	log     *slog.Logger
}

func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if !cfg.Enabled() {
		return nil, errors.New("nats url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("bridgewatch"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	logger.Debug("connected to nats", "url", cfg.URL)
	return newPublisher(nc, cfg.Subject, logger), nil
}

func newPublisher(c conn, subject string, logger *slog.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: c, subject: subject, log: logger}
}

func (p *Publisher) Subject() string { return p.subject }

// PublishSummary sends s and waits briefly for the server to take it; a CLI
// run exits right after.
func (p *Publisher) PublishSummary(s Summary) error {
	if p == nil || p.conn == nil {
		return errors.New("publisher not initialized")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return err
	}
	if err := p.conn.FlushTimeout(5 * time.Second); err != nil {
		return err
	}
	p.log.Info("published scan summary", "subject", p.subject, "trace_id", s.TraceID, "flagged", s.Flagged)
	return nil
}

func (p *Publisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
}
