package desktop

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"
)

const writeTimeout = 10 * time.Second

// Conn is one connected desktop companion.
type Conn struct {
	ID   string
	conn net.Conn

	wmu sync.Mutex
}

func newConn(id string, c net.Conn) *Conn {
	return &Conn{ID: id, conn: c}
}

// Send writes v as one JSON line.
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	data = append(data, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = c.conn.Write(data)
	return err
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

type entry struct {
	conn *Conn
	apis []string
}

// Registry tracks connected desktop companions and the APIs each declared.
// Change listeners run after the lock is released, before the mutating
// call returns.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	onChange []func()
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// OnChange registers fn to run after every add, remove or capability update.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, fn)
}

func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	r.entries[c.ID] = &entry{conn: c}
	listeners := r.listenersLocked()
	r.mu.Unlock()
	notify(listeners)
}

// SetAPIs records the capability set declared by connection id.
func (r *Registry) SetAPIs(id string, apis []string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.apis = append([]string(nil), apis...)
	listeners := r.listenersLocked()
	r.mu.Unlock()
	notify(listeners)
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	if _, ok := r.entries[id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.entries, id)
	listeners := r.listenersLocked()
	r.mu.Unlock()
	notify(listeners)
}

// Count returns the number of connected companions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// UtilizedAPIs returns the sorted union of every companion's declared APIs.
func (r *Registry) UtilizedAPIs() []string {
	r.mu.RLock()
	seen := make(map[string]bool)
	for _, e := range r.entries {
		for _, api := range e.apis {
			seen[api] = true
		}
	}
	r.mu.RUnlock()

	apis := make([]string, 0, len(seen))
	for api := range seen {
		apis = append(apis, api)
	}
	sort.Strings(apis)
	return apis
}

// Conns returns a snapshot of the connected companions.
func (r *Registry) Conns() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Conn, 0, len(r.entries))
	for _, e := range r.entries {
		conns = append(conns, e.conn)
	}
	return conns
}

func (r *Registry) listenersLocked() []func() {
	return append([]func(){}, r.onChange...)
}

func notify(listeners []func()) {
	for _, fn := range listeners {
		fn()
	}
}
