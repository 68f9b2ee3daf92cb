package corewake

import (
	"runtime"
	"time"
)

// runtimeMode selects which of spec §6's three builder variants a Runtime
// runs as.
type runtimeMode int

const (
	modeMultiThreaded runtimeMode = iota
	modeCurrentThread
	modeShell
)

// buildOptions holds configuration accumulated from Option values, mirrored
// from the teacher's loopOptions/resolveLoopOptions (eventloop/options.go).
type buildOptions struct {
	mode    runtimeMode
	workers int

	blockingPoolCap      int
	blockingPoolKeepAlive time.Duration

	metricsEnabled bool
	logger         Logger
}

// Option configures a Runtime at construction via New. It follows
// the teacher's functional-option-as-interface shape (LoopOption /
// loopOptionImpl) rather than a plain closure type, so a future option
// could carry richer validation without changing the exported signature.
type Option interface {
	applyBuilder(*buildOptions) error
}

type optionFunc struct {
	fn func(*buildOptions) error
}

func (o *optionFunc) applyBuilder(opts *buildOptions) error { return o.fn(opts) }

// WithWorkers sets the number of worker threads for the multi-threaded
// work-stealing executor. Ignored for current-thread and shell runtimes.
func WithWorkers(n int) Option {
	return &optionFunc{func(opts *buildOptions) error {
		opts.workers = n
		return nil
	}}
}

// WithCurrentThread selects the single-threaded current-thread executor
// variant from spec §6: a single worker goroutine, so no stealing is
// possible.
func WithCurrentThread() Option {
	return &optionFunc{func(opts *buildOptions) error {
		opts.mode = modeCurrentThread
		return nil
	}}
}

// WithShell selects the "no executor, driver handles only" variant: Spawn
// panics with ErrNoExecutor, but BlockOn, the Reactor and the BlockingPool
// remain usable (see SPEC_FULL.md's original_source note on this mode still
// owning a driver).
func WithShell() Option {
	return &optionFunc{func(opts *buildOptions) error {
		opts.mode = modeShell
		return nil
	}}
}

// WithBlockingPoolCap bounds the number of OS threads the BlockingPool may
// lazily create. Zero means unbounded.
func WithBlockingPoolCap(n int) Option {
	return &optionFunc{func(opts *buildOptions) error {
		opts.blockingPoolCap = n
		return nil
	}}
}

// WithBlockingPoolKeepAlive sets how long an idle blocking thread waits for
// new work before exiting.
func WithBlockingPoolKeepAlive(d time.Duration) Option {
	return &optionFunc{func(opts *buildOptions) error {
		opts.blockingPoolKeepAlive = d
		return nil
	}}
}

// WithMetrics enables poll/steal latency quantile tracking, mirroring the
// teacher's WithMetrics (eventloop/options.go); see metrics.go.
func WithMetrics(enabled bool) Option {
	return &optionFunc{func(opts *buildOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithLogger installs a structured Logger (see internal/corelog, wrapped
// here as the exported Logger interface) in place of the package default.
func WithLogger(l Logger) Option {
	return &optionFunc{func(opts *buildOptions) error {
		opts.logger = l
		return nil
	}}
}

func resolveBuildOptions(opts []Option) (*buildOptions, error) {
	cfg := &buildOptions{
		mode:                  modeMultiThreaded,
		workers:               runtime.GOMAXPROCS(0),
		blockingPoolKeepAlive: 10 * time.Second,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyBuilder(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.mode == modeCurrentThread {
		cfg.workers = 1
	}
	if cfg.workers < 1 {
		cfg.workers = 1
	}
	return cfg, nil
}
