package email

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"proin/api/internal/logging"
	"proin/api/internal/metrics"
)

// Notifier dispatches mail without blocking the caller.
type Notifier interface {
	Notify(ctx context.Context, kind string, msg Message)
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// AsyncNotifier sends each message on its own goroutine, detached from the
// request context. Failures are logged and counted, never retried.
type AsyncNotifier struct {
	sender  Sender
	logger  *logging.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsyncNotifier(sender Sender, logger *logging.Logger, m *metrics.Metrics) *AsyncNotifier {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &AsyncNotifier{
		sender:  sender,
		logger:  logger.Named("email"),
		metrics: m,
		timeout: 30 * time.Second,
	}
}

func (n *AsyncNotifier) Notify(ctx context.Context, kind string, msg Message) {
	detached := context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		sendCtx, cancel := context.WithTimeout(detached, n.timeout)
		defer cancel()

		err := n.sender.Send(sendCtx, msg)
		n.metrics.Notification(kind, err)
		switch {
		case errors.Is(err, ErrNotConfigured):
			n.logger.Debug(detached, "email skipped, smtp not configured", zap.String("kind", kind))
		case err != nil:
			n.logger.Warn(detached, "email delivery failed",
				zap.String("kind", kind),
				zap.Strings("to", msg.To),
				zap.Error(err),
			)
		default:
			n.logger.Info(detached, "email sent", zap.String("kind", kind), zap.Int("recipients", len(msg.To)))
		}
	}()
}

// Wait blocks until in-flight deliveries finish. Used on shutdown and in tests.
func (n *AsyncNotifier) Wait() {
	n.wg.Wait()
}
