package engine

import "time"

// HostABIVersion is the contract/delegate ABI version implemented by this engine.
const HostABIVersion = "0.1.0"

// PageSize is the size of one WebAssembly memory page.
const PageSize = 65536

// Config holds configuration for engine creation
type Config struct {
	// ABIVersion is the host ABI version guests are checked against.
	// Empty means HostABIVersion.
	ABIVersion string

	// CompilationCacheDir persists wazero's native code across processes.
	// Empty keeps compiled code in memory only.
	CompilationCacheDir string

	// MemoryLimitPages caps every instance's linear memory in pages (64KB each).
	// 0 means default (256 pages = 16MB).
	MemoryLimitPages uint32

	// MaxInstances is the number of sandboxes that may be live at once.
	// Instantiate fails instead of queuing when the ceiling is reached.
	MaxInstances int64

	// MaxCodeSize rejects module binaries larger than this many bytes.
	MaxCodeSize int
}

// DefaultConfig returns the configuration used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		ABIVersion:       HostABIVersion,
		MemoryLimitPages: 256,
		MaxInstances:     64,
		MaxCodeSize:      8 << 20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ABIVersion == "" {
		c.ABIVersion = d.ABIVersion
	}
	if c.MemoryLimitPages == 0 {
		c.MemoryLimitPages = d.MemoryLimitPages
	}
	if c.MaxInstances <= 0 {
		c.MaxInstances = d.MaxInstances
	}
	if c.MaxCodeSize <= 0 {
		c.MaxCodeSize = d.MaxCodeSize
	}
	return c
}

// Limits bound a single call. Zero fields mean unlimited, except
// MaxMemoryPages which falls back to the engine's MemoryLimitPages.
type Limits struct {
	// Fuel is the number of guest function entries a call may perform.
	Fuel uint64
	// Timeout is the wall-clock budget of a call.
	Timeout time.Duration
	// MaxMemoryPages caps memory growth requested by the host while
	// marshaling arguments, and the memory a call may end with.
	MaxMemoryPages uint32
}

// DefaultLimits returns the per-call limits used by the runtime by default.
func DefaultLimits() Limits {
	return Limits{
		Fuel:           10_000_000,
		Timeout:        5 * time.Second,
		MaxMemoryPages: 256,
	}
}
