package cardscan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/zombor/card-scanner/internal/cardkey"
	"github.com/zombor/card-scanner/internal/resolution"
)

// Event subjects
const (
	SubjectScanCompleted   = "cards.scan.completed"
	SubjectCommitCompleted = "cards.commit.completed"
)

// ScanEvent is published after every scan that produced a result.
type ScanEvent struct {
	UserID         string           `json:"userId"`
	CardKey        cardkey.Key      `json:"cardKey,omitempty"`
	CardName       string           `json:"cardName,omitempty"`
	State          resolution.State `json:"state"`
	Source         string           `json:"source"`
	CandidateCount int              `json:"candidateCount"`
	ErrorCode      string           `json:"errorCode,omitempty"`
	At             time.Time        `json:"at"`
}

// CommitEvent is published after every successful commit.
type CommitEvent struct {
	CardKey  cardkey.Key `json:"cardKey"`
	ImageURL string      `json:"imageUrl"`
	Title    string      `json:"title"`
	Cached   bool        `json:"cached"`

	// ProductKey is set when the key came from a catalog product id.
	ProductKey bool      `json:"productKey"`
	At         time.Time `json:"at"`
}

// Publisher delivers events to whoever consumes scan results, for example
// notification fan-out.
type Publisher interface {
	Publish(ctx context.Context, subject string, event any) error
	Close() error
}

// NATSPublisher publishes JSON events on a NATS connection.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to the NATS server at url. token may be empty.
func NewNATSPublisher(url, token string) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("card-scanner"),
		nats.Timeout(5 * time.Second),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

// Publish encodes event as JSON and publishes it on subject.
func (p *NATSPublisher) Publish(_ context.Context, subject string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publishing %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending events and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }

func (NopPublisher) Close() error { return nil }
