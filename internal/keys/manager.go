package keys

import (
	"log/slog"
	"sync"

	"github.com/ehrlich-b/deskbridge/internal/clock"
)

// Manager holds at most one trusted key and the timer that expires it.
// Listeners run synchronously on the goroutine that triggered them, after
// the manager's lock is released, and before the triggering call returns.
type Manager struct {
	clock clock.Clock

	mu        sync.Mutex
	current   *KeyData
	timer     clock.Timer
	gen       uint64 // bumped on every transition; stale timers compare against it
	onSet     []func(KeyData)
	onExpired []func(KeyData)
}

func NewManager(c clock.Clock) *Manager {
	if c == nil {
		c = clock.Real()
	}
	return &Manager{clock: c}
}

// OnKeySet registers fn to be called with every accepted key.
func (m *Manager) OnKeySet(fn func(KeyData)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSet = append(m.onSet, fn)
}

// OnExpired registers fn to be called when a held key expires.
func (m *Manager) OnExpired(fn func(KeyData)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpired = append(m.onExpired, fn)
}

// SetKey installs k as the current key, superseding any previous one,
// and runs the key-set listeners. Returns false without changing state if
// k has already expired.
func (m *Manager) SetKey(k KeyData) bool {
	notify, ok := m.InstallKey(k)
	if ok {
		notify()
	}
	return ok
}

// InstallKey is SetKey with the listener call handed back instead of run,
// so a caller can install under its own lock and notify after releasing it.
func (m *Manager) InstallKey(k KeyData) (notify func(), ok bool) {
	m.mu.Lock()
	now := m.clock.Now()
	if k.ExpiredAt(now) {
		m.mu.Unlock()
		slog.Warn("rejecting expired key", "uuid", k.UUID, "expiration", k.ExpirationTime, "err", ErrExpiredKey)
		return nil, false
	}

	m.stopTimerLocked()
	m.gen++
	gen := m.gen
	m.current = &k
	m.timer = m.clock.AfterFunc(k.ExpirationTime.Sub(now), func() { m.expire(gen) })
	listeners := append([]func(KeyData){}, m.onSet...)
	m.mu.Unlock()

	return func() {
		slog.Info("key set", "uuid", k.UUID, "expiration", k.ExpirationTime)
		for _, fn := range listeners {
			fn(k)
		}
	}, true
}

// ExpireKey drops the current key and notifies expiry listeners. It is a
// no-op when no key is held.
func (m *Manager) ExpireKey() {
	m.mu.Lock()
	expired, listeners, ok := m.expireLocked()
	m.mu.Unlock()
	if ok {
		m.notifyExpired(expired, listeners)
	}
}

func (m *Manager) expire(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	expired, listeners, ok := m.expireLocked()
	m.mu.Unlock()
	if ok {
		m.notifyExpired(expired, listeners)
	}
}

func (m *Manager) expireLocked() (KeyData, []func(KeyData), bool) {
	m.stopTimerLocked()
	if m.current == nil {
		return KeyData{}, nil, false
	}
	expired := *m.current
	m.current = nil
	m.gen++
	return expired, append([]func(KeyData){}, m.onExpired...), true
}

func (m *Manager) notifyExpired(k KeyData, listeners []func(KeyData)) {
	slog.Info("key expired", "uuid", k.UUID)
	for _, fn := range listeners {
		fn(k)
	}
}

// ValidKey returns the current key if one is held and not yet expired.
// A key found past its expiration is expired on the spot, so validity
// never depends on the timer having fired.
func (m *Manager) ValidKey() (KeyData, bool) {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return KeyData{}, false
	}
	if !m.current.ExpiredAt(m.clock.Now()) {
		k := *m.current
		m.mu.Unlock()
		return k, true
	}
	expired, listeners, ok := m.expireLocked()
	m.mu.Unlock()
	if ok {
		m.notifyExpired(expired, listeners)
	}
	return KeyData{}, false
}

func (m *Manager) HasValidKey() bool {
	_, ok := m.ValidKey()
	return ok
}

// CurrentKey returns the held key without revalidating it.
func (m *Manager) CurrentKey() (KeyData, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return KeyData{}, false
	}
	return *m.current, true
}

// Cleanup clears the key and timer without notifying anyone. Only for
// process shutdown.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked()
	m.current = nil
	m.gen++
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
