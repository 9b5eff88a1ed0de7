package claimflow

import (
	"time"

	"go.uber.org/zap"
)

const DefaultConnectTimeout = 2 * time.Minute

// Option configures a Coordinator at Open.
type Option func(*options)

type options struct {
	logger         *zap.Logger
	connectTimeout time.Duration
	submitTimeout  time.Duration
	onSuccess      func(Outcome)
	onTransition   func(from, to Phase)
	afterFunc      func(time.Duration, func()) (stop func() bool)
}

func defaultOptions() options {
	return options{
		logger:         zap.NewNop(),
		connectTimeout: DefaultConnectTimeout,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}
}

// WithLogger sets the logger; nil keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithConnectTimeout bounds how long the workflow waits in PhaseConnecting.
// Zero disables the timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = d
	}
}

// WithSubmitTimeout bounds the claim submission call. Zero leaves it to the caller's context.
func WithSubmitTimeout(d time.Duration) Option {
	return func(o *options) {
		o.submitTimeout = d
	}
}

// WithSuccessObserver registers fn to run once when the claim is initiated.
func WithSuccessObserver(fn func(Outcome)) Option {
	return func(o *options) {
		o.onSuccess = fn
	}
}

// WithTransitionObserver registers fn to run after every phase change,
// outside the coordinator's lock.
func WithTransitionObserver(fn func(from, to Phase)) Option {
	return func(o *options) {
		o.onTransition = fn
	}
}

func withAfterFunc(fn func(time.Duration, func()) func() bool) Option {
	return func(o *options) {
		o.afterFunc = fn
	}
}
