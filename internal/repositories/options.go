package repositories

import "time"

type options struct {
	now func() time.Time
}

// Option configures the GORM repositories and the CredentialStore.
type Option func(*options)

// WithClock overrides the clock used to stamp inserted rows and to compute
// retention cutoffs.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
