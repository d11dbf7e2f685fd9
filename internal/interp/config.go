package interp

import "github.com/sirupsen/logrus"

// Config holds interpreter-wide behavior switches. Option values never
// mutate a shared Config in place; each sets its field on the per-call
// Config assembled from NewInterpreter's variadic opts.
type Config struct {
	nullPageGuard     bool
	hostTableDispatch bool
	memoryMaxPages    uint32
	callStackCeiling  int
	labelTableSize    int
	metrics           *Metrics
	logger            *logrus.Logger
	builtins          []NamedBuiltin
}

// MaxMemoryPages is the hard WebAssembly 1.0 ceiling: 2^16 pages of 64KiB
// each, i.e. 4GiB of addressable linear memory.
const MaxMemoryPages = 65536

// defaultCallStackCeiling and defaultLabelTableSize bound the call-frame
// stack and per-function label cache; both are per-instance overridable.
const (
	defaultCallStackCeiling = 2048
	defaultLabelTableSize   = 1024
)

func defaultConfig() *Config {
	return &Config{
		nullPageGuard:    true,
		memoryMaxPages:   MaxMemoryPages,
		callStackCeiling: defaultCallStackCeiling,
		labelTableSize:   defaultLabelTableSize,
	}
}

// Option configures an Interpreter at construction time.
type Option func(*Config)

// WithNullPageGuard controls whether address 0 of linear memory is
// reserved as a null sentinel so every guest access through it traps.
// Enabled by default; a host embedding nostrscript for a guest that
// legitimately uses address 0 (rare, but some non-Rust/non-C toolchains
// don't reserve it) can disable the guard explicitly.
func WithNullPageGuard(enabled bool) Option {
	return func(c *Config) { c.nullPageGuard = enabled }
}

// WithHostTableDispatch enables call_indirect to resolve a negative
// funcref address -(i+1) held in a table slot to builtin i of
// WithBuiltins. When disabled, such an address is taken as an
// out-of-range function index and traps. Off by default: a
// module's table is ordinary WebAssembly guest-defined state unless a host
// opts in to this extension.
func WithHostTableDispatch(enabled bool) Option {
	return func(c *Config) { c.hostTableDispatch = enabled }
}

// WithMemoryMaxPages caps the number of 64KiB pages memory.grow may reach,
// overriding a module's own declared max (but never raising it above what
// the module declares).
func WithMemoryMaxPages(n uint32) Option {
	return func(c *Config) {
		if n < c.memoryMaxPages || c.memoryMaxPages == 0 {
			c.memoryMaxPages = n
		}
	}
}

// WithCallStackCeiling bounds the call-frame stack; a module recursing
// past it traps with an ExhaustionError rather than growing host memory.
func WithCallStackCeiling(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.callStackCeiling = n
		}
	}
}

// WithLabelTableSize bounds how many distinct block/loop/if labels any one
// function may accumulate in the label cache.
func WithLabelTableSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.labelTableSize = n
		}
	}
}

// WithMetrics attaches a Metrics sink; nil (the default) disables
// instrumentation entirely so a non-Prometheus embedder pays no cost.
func WithMetrics(m *Metrics) Option {
	return func(c *Config) { c.metrics = m }
}

// WithLogger attaches a structured logger; every trap is logged at Error
// level with component/fn/pos fields before being returned to the caller.
// Nil (the default) keeps the interpreter silent.
func WithLogger(log *logrus.Logger) Option {
	return func(c *Config) { c.logger = log }
}

// WithBuiltins registers the host functions a module's imports resolve
// against. A builtin's index within this list is stable and is what
// WithHostTableDispatch's negative-ref convention addresses.
func WithBuiltins(builtins ...NamedBuiltin) Option {
	return func(c *Config) { c.builtins = builtins }
}
