// Package quota implements the shared quota-root accounting used by the
// FTP SITE QUOTA/SETQUOTA gate and the IMAP QUOTA extension.
package quota

import (
	"errors"
	"fmt"
	"sync"
)

// Source identifies where a quota root's limit was resolved from.
type Source int

// Quota sources, from least to most specific.
const (
	SourceNone Source = iota
	SourceDefault
	SourceRole
	SourceUser
)

// String implements fmt.Stringer.
func (s Source) String() string {
	switch s {
	case SourceUser:
		return "USER"
	case SourceRole:
		return "ROLE"
	case SourceDefault:
		return "DEFAULT"
	default:
		return "NONE"
	}
}

// Usage is a snapshot of a quota root's accounting.
type Usage struct {
	Root      string // quota root name: a user, a role, or "DEFAULT"
	Used      int64  // bytes currently used
	Limit     int64  // bytes allowed; <= 0 means unlimited
	Source    Source
	Unlimited bool
}

// Percent returns the used/limit ratio, 0 if unlimited or limit is 0.
func (u Usage) Percent() float64 {
	if u.Unlimited || u.Limit <= 0 {
		return 0
	}

	return float64(u.Used) / float64(u.Limit) * 100
}

// ErrQuotaExceeded is returned by Manager.Reserve when a reservation would
// push a quota root's usage past its limit.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Manager is the shared quota-root accounting surface. One instance is
// handed to both the FTP MainDriver (SITE QUOTA gate) and the IMAP
// AuthenticatedHandler (QUOTA extension); a quota root is addressed by
// name only, so the two protocols naturally share usage counters for the
// same user.
type Manager interface {
	// CanStore reports whether storing an additional size bytes for user
	// would stay within their quota. size may be 0 when the upload size is
	// not known in advance (the FTP STOR/STOU/APPE pre-check case).
	CanStore(user string, size int64) bool

	// Reserve commits size bytes against user's quota root, returning
	// ErrQuotaExceeded (without mutating state) if it would overflow.
	Reserve(user string, size int64) error

	// Release gives back size bytes previously reserved (e.g. after a
	// failed or aborted transfer).
	Release(user string, size int64)

	// Usage returns the current usage snapshot for a quota root.
	Usage(root string) (Usage, error)

	// SetLimit sets (or clears, with limit <= 0) a per-user quota limit.
	SetLimit(user string, limit int64) error
}

// InMemory is a process-local Manager backed by a map, suitable as the
// reference implementation wired into driverfs and the test suites.
type InMemory struct {
	mu           sync.Mutex
	used         map[string]int64
	limits       map[string]int64
	defaultLimit int64 // <=0 means unlimited by default
}

// NewInMemory creates an in-memory quota manager with the given default
// per-user limit (<=0 for unlimited).
func NewInMemory(defaultLimit int64) *InMemory {
	return &InMemory{
		used:         make(map[string]int64),
		limits:       make(map[string]int64),
		defaultLimit: defaultLimit,
	}
}

func (m *InMemory) limitFor(user string) (int64, Source) {
	if l, ok := m.limits[user]; ok {
		return l, SourceUser
	}

	if m.defaultLimit > 0 {
		return m.defaultLimit, SourceDefault
	}

	return 0, SourceNone
}

// CanStore implements Manager.
func (m *InMemory) CanStore(user string, size int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit, _ := m.limitFor(user)
	if limit <= 0 {
		return true
	}

	return m.used[user]+size <= limit
}

// Reserve implements Manager.
func (m *InMemory) Reserve(user string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit, _ := m.limitFor(user)
	if limit > 0 && m.used[user]+size > limit {
		return fmt.Errorf("%w: used %d of %d", ErrQuotaExceeded, m.used[user], limit)
	}

	m.used[user] += size

	return nil
}

// Release implements Manager.
func (m *InMemory) Release(user string, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.used[user] -= size
	if m.used[user] < 0 {
		m.used[user] = 0
	}
}

// Usage implements Manager.
func (m *InMemory) Usage(root string) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit, source := m.limitFor(root)

	return Usage{
		Root:      root,
		Used:      m.used[root],
		Limit:     limit,
		Source:    source,
		Unlimited: limit <= 0,
	}, nil
}

// SetLimit implements Manager.
func (m *InMemory) SetLimit(user string, limit int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		delete(m.limits, user)
	} else {
		m.limits[user] = limit
	}

	return nil
}
