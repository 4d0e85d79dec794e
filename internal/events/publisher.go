// Package events publishes best-effort domain events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"proin/api/internal/logging"
	"proin/api/internal/metrics"
)

const (
	ProjectCreated     = "project.created"
	ProjectUpdated     = "project.updated"
	ProjectDeleted     = "project.deleted"
	ProjectMoved       = "project.moved"
	ProjectInvited     = "project.invited"
	ProjectJoined      = "project.joined"
	MemberRemoved      = "member.removed"
	TaskCreated        = "task.created"
	TaskUpdated        = "task.updated"
	TaskDeleted        = "task.deleted"
	TransactionCreated = "transaction.created"
	TransactionUpdated = "transaction.updated"
	TransactionDeleted = "transaction.deleted"
	CommentAdded       = "comment.added"
	CommentDeleted     = "comment.deleted"
	FileAdded          = "file.added"
	FileRemoved        = "file.removed"
)

type Event struct {
	Type       string         `json:"type"`
	ProjectID  string         `json:"projectId,omitempty"`
	ActorID    string         `json:"actorId,omitempty"`
	EntityID   string         `json:"entityId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       map[string]any `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Nop drops every event. Used when NATS is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// NATSPublisher publishes events on "<prefix>.<type>". Publish errors are
// logged and counted; callers never see them.
type NATSPublisher struct {
	conn    *nats.Conn
	prefix  string
	logger  *logging.Logger
	metrics *metrics.Metrics
}

func Connect(url, prefix string, logger *logging.Logger, m *metrics.Metrics) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("proin-api"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNATSPublisher(conn, prefix, logger, m), nil
}

func NewNATSPublisher(conn *nats.Conn, prefix string, logger *logging.Logger, m *metrics.Metrics) *NATSPublisher {
	if prefix == "" {
		prefix = "proin"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger.Named("events"), metrics: m}
}

func (p *NATSPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

func (p *NATSPublisher) Publish(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	subject := p.Subject(event.Type)

	data, err := json.Marshal(event)
	if err == nil {
		err = p.conn.Publish(subject, data)
	}
	p.metrics.Event(subject, err)
	if err != nil {
		p.logger.Warn(ctx, "publish event failed",
			zap.String("subject", subject),
			zap.String("entity.id", event.EntityID),
			zap.Error(err),
		)
	}
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if p.conn == nil {
		return
	}
	_ = p.conn.Drain()
}
