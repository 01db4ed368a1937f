package engine

import (
	"github.com/l3aro/pystruct/internal/log"
)

// Option configures one Analyze call
type Option func(*options)

type options struct {
	logger   log.Logger
	module   string
	builtins []string
}

func newOptions(opts []Option) *options {
	o := &options{logger: log.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger receiving stage timings and failures
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithModuleName overrides the module name derived from the file identifier
func WithModuleName(name string) Option {
	return func(o *options) {
		o.module = name
	}
}

// WithBuiltins adds names that resolve like builtins, for example names
// injected by a framework at runtime.
func WithBuiltins(names ...string) Option {
	return func(o *options) {
		o.builtins = append(o.builtins, names...)
	}
}
