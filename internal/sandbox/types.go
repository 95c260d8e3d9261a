package sandbox

import (
	"time"

	"github.com/GriffinCanCode/vsite/internal/config"
)

// Config defines sandbox configuration
type Config struct {
	Timeout       time.Duration // Per-script execution timeout
	EnableConsole bool          // Capture console.log/warn/error
	MaxCallStack  int           // goja call stack limit
	UserAgent     string        // navigator.userAgent
}

// DefaultConfig returns the default sandbox configuration
func DefaultConfig() Config {
	return Config{
		Timeout:       5 * time.Second,
		EnableConsole: true,
		MaxCallStack:  1024,
		UserAgent:     "Mozilla/5.0 (vsite)",
	}
}

// FromConfig derives a sandbox configuration from runtime configuration
func FromConfig(c config.SandboxConfig) Config {
	cfg := DefaultConfig()
	cfg.Timeout = c.ScriptTimeout
	cfg.EnableConsole = c.Console
	cfg.MaxCallStack = c.MaxCallStack
	return cfg
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    // log, info, warn, error, debug
	Message string    // Log message
	Time    time.Time // Timestamp
}

// State is the lifecycle state of a content sandbox
type State int

const (
	StateBooting State = iota
	StateAwaitingContext
	StateRewriting
	StateReady
	StateInteractive
	StateDisposed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateBooting:
		return "booting"
	case StateAwaitingContext:
		return "awaiting_context"
	case StateRewriting:
		return "rewriting"
	case StateReady:
		return "ready"
	case StateInteractive:
		return "interactive"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// ClickResult describes what a dispatched click led to
type ClickResult struct {
	Prevented bool   `json:"prevented"`          // a handler called preventDefault
	Virtual   string `json:"virtual,omitempty"`  // navigation requested from the host, "" if none
	Anchor    string `json:"anchor,omitempty"`   // in-page fragment scrolled to
	External  string `json:"external,omitempty"` // URL that would open outside the sandbox
}
