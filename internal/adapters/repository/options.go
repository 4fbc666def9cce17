package repository

import (
	"time"

	"github.com/okian/posefuse/pkg/logger"
)

type options struct {
	now    func() time.Time
	logger logger.Logger
}

// Option applies a configuration option to a store.
type Option func(*options)

// WithClock sets the clock used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the store's logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
