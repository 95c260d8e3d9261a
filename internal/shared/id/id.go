// Package id generates identifiers for runtime objects.
//
// IDs are ULIDs behind a short kind prefix (sbx_, sess_, req_), so they sort
// by creation time in logs and say what they name at a glance. Each kind has
// its own string type.
package id

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SandboxID identifies one content sandbox, i.e. one displayed page.
type SandboxID string

// SessionID identifies a host session, i.e. one loaded bundle.
type SessionID string

// RequestID identifies an inspection API request.
type RequestID string

const (
	SandboxPrefix = "sbx"
	SessionPrefix = "sess"
	RequestPrefix = "req"
)

func (id SandboxID) String() string { return string(id) }
func (id SessionID) String() string { return string(id) }
func (id RequestID) String() string { return string(id) }

// NewSandboxID generates a new sandbox ID.
func NewSandboxID() SandboxID { return prefixed[SandboxID](SandboxPrefix) }

// NewSessionID generates a new session ID.
func NewSessionID() SessionID { return prefixed[SessionID](SessionPrefix) }

// NewRequestID generates a new request ID.
func NewRequestID() RequestID { return prefixed[RequestID](RequestPrefix) }

func prefixed[T ~string](prefix string) T {
	return T(Default().GenerateWithPrefix(prefix))
}

// Generator produces monotonic ULIDs; it is safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var (
	defaultGenerator *Generator
	defaultOnce      sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	defaultOnce.Do(func() { defaultGenerator = NewGenerator() })
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix returns prefix + "_" + a new ULID.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return prefix + "_" + g.Generate().String()
}

// Parse extracts the ULID of a prefixed or bare ID.
func Parse(id string) (ulid.ULID, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	return ulid.Parse(id)
}

// IsValid reports whether id carries a valid ULID.
func IsValid(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// Timestamp returns the creation time encoded in id.
func Timestamp(id string) (time.Time, error) {
	u, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
