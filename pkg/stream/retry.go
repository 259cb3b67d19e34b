package stream

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/turnstile-dev/turnstile/pkg/chat"
)

// RetryTransport wraps a Transport with exponential backoff on Open. Only
// the open is retried: once a stream has started delivering events it is
// never reopened, since a second stream could double-deliver terminal
// frames for the same turn.
type RetryTransport struct {
	Inner chat.Transport

	// MaxElapsed bounds the total time spent retrying one Open.
	// Zero means the 30 second default.
	MaxElapsed time.Duration

	// InitialInterval overrides the first backoff delay. Zero keeps the
	// library default.
	InitialInterval time.Duration

	log *zap.Logger
}

func WithRetry(inner chat.Transport, log *zap.Logger) *RetryTransport {
	if log == nil {
		log = zap.NewNop()
	}
	return &RetryTransport{Inner: inner, log: log}
}

func (r *RetryTransport) Name() string { return r.Inner.Name() }

func (r *RetryTransport) Open(ctx context.Context, req chat.Request) (<-chan chat.TransportEvent, error) {
	var events <-chan chat.TransportEvent

	op := func() error {
		ch, err := r.Inner.Open(ctx, req)
		if err != nil {
			return err
		}
		events = ch
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = r.MaxElapsed
	if bo.MaxElapsedTime == 0 {
		bo.MaxElapsedTime = 30 * time.Second
	}
	if r.InitialInterval > 0 {
		bo.InitialInterval = r.InitialInterval
	}

	notify := func(err error, next time.Duration) {
		r.log.Warn("transport open failed, retrying",
			zap.String("transport", r.Inner.Name()),
			zap.Duration("backoff", next),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, err
	}
	return events, nil
}
