package cpejobs

import (
	"context"
	stderr "errors"
	"time"

	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"
)

// Handler processes one received message. A nil error deletes the message,
// any other error leaves it in the queue to be received again once the
// visibility timeout expires.
type Handler func(ctx context.Context, msg *Message) error

// Poll receives messages from the client output queue until ctx is done.
// Each iteration is a single ReceiveMessage of at most wait seconds. Queue
// and credential errors are logged and followed by a pause, validation
// errors stop the loop. Poll returns ctx.Err() once cancelled.
func (s *SDK) Poll(ctx context.Context, c any, wait int32, h Handler) error {
	const op = errors.Op("cpe_poll")

	if h == nil {
		return missing(op, "handler")
	}

	cl, err := loadClient(c, s.cfg.RequireRole)
	if err != nil {
		return err
	}

	backoff := s.pollBackoff(wait)
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("poller was stopped", zap.String("client", cl.Name))
			return ctx.Err()
		default:
		}

		msg, err := s.ReceiveMessage(ctx, cl, wait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if !IsKind(QueueError, err) && !IsKind(CredentialError, err) {
				return err
			}

			s.log.Warn("receive failed, pausing before the next poll", zap.Duration("backoff", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			continue
		}

		if msg == nil {
			continue
		}

		err = h(msg.Context(ctx), msg)
		if err != nil {
			if !stderr.Is(err, ErrRetain) {
				s.log.Error("message handler failed, message left in the queue", zap.String("ID", msg.ID), zap.Error(err))
			}
			continue
		}

		// on failure the error is logged by DeleteMessage and the message comes back
		_ = s.DeleteMessage(ctx, cl, msg)
	}
}

func (s *SDK) pollBackoff(wait int32) time.Duration {
	if s.backoff > 0 {
		return s.backoff
	}

	d := time.Duration(clampWait(wait)) * time.Second
	switch {
	case d < time.Second:
		return time.Second
	case d > maxBackoff:
		return maxBackoff
	default:
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
