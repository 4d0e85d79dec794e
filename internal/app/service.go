package app

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"proin/api/internal/authpw"
	"proin/api/internal/config"
	"proin/api/internal/email"
	"proin/api/internal/events"
	"proin/api/internal/logging"
	"proin/api/internal/metrics"
	"proin/api/internal/search"
	"proin/api/internal/storage"
	"proin/api/internal/store"
)

// Identity is the authenticated caller. Every coordinator operation takes it
// explicitly; nothing reads it from ambient state.
type Identity struct {
	UserID string
	Email  string
}

// DataStore is the document store plus its transaction boundary.
type DataStore interface {
	store.Querier
	WithTx(ctx context.Context, fn func(q store.Querier) error) error
	Ping(ctx context.Context) error
}

type Dependencies struct {
	Store    DataStore
	Storage  storage.Gateway
	Notifier email.Notifier
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Search   *search.Service
	Auth     *authpw.Service
	Logger   *logging.Logger
}

type Service struct {
	cfg      config.Config
	store    DataStore
	storage  storage.Gateway
	notifier email.Notifier
	events   events.Publisher
	metrics  *metrics.Metrics
	search   *search.Service
	auth     *authpw.Service
	logger   *logging.Logger
	now      func() time.Time
}

func New(cfg config.Config, deps Dependencies) *Service {
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		storage:  deps.Storage,
		notifier: deps.Notifier,
		events:   deps.Events,
		metrics:  deps.Metrics,
		search:   deps.Search,
		auth:     deps.Auth,
		logger:   deps.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if s.storage == nil {
		s.storage = storage.Disabled{}
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	s.logger = s.logger.Named("app")
	return s
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, email.Message) {}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.auth
}

// observe records the outcome of one operation. Use with a named error return:
// defer s.observe("task.create", time.Now(), &err).
func (s *Service) observe(operation string, started time.Time, errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	s.metrics.Observe(operation, started, err)
}

// fail passes domain errors through. Anything else is logged with its cause
// and replaced by the user-safe fallback.
func (s *Service) fail(ctx context.Context, operation string, err error, fallback *DomainError, fields ...zap.Field) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	fields = append(fields, zap.String("operation", operation), zap.Error(err))
	s.logger.Error(ctx, "operation failed", fields...)
	return fallback
}

func (s *Service) publish(ctx context.Context, eventType, projectID, actorID, entityID string, data map[string]any) {
	s.events.Publish(ctx, events.Event{
		Type:       eventType,
		ProjectID:  projectID,
		ActorID:    actorID,
		EntityID:   entityID,
		OccurredAt: s.now(),
		Data:       data,
	})
}

func (s *Service) loadUser(ctx context.Context, q store.Querier, userID string) (store.User, error) {
	user, err := q.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, notFound("Could not find user for the provided id.")
	}
	return user, err
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
