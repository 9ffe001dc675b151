package keys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ehrlich-b/deskbridge/internal/backoff"
	"github.com/ehrlich-b/deskbridge/internal/clock"
)

const (
	DefaultRetryInterval  = 5 * time.Second
	DefaultRequestTimeout = 30 * time.Second

	maxErrorBody = 64 * 1024
)

// KeySetter accepts fetched keys. Implemented by *Manager. The returned
// notify runs the key-set listeners and is only valid when ok is true.
type KeySetter interface {
	InstallKey(KeyData) (notify func(), ok bool)
}

// Registrar is told about every session whose key was installed.
type Registrar interface {
	RegisterUUID(uuid string, expiration time.Time)
}

// FetcherConfig configures a Fetcher. Zero values take defaults.
type FetcherConfig struct {
	BaseURL        string
	HTTPClient     *http.Client
	Clock          clock.Clock
	RetryInterval  time.Duration
	RequestTimeout time.Duration
}

// Fetcher polls the backend for a session's key until it gets one, hits a
// terminal error, or is cancelled. At most one session is fetched at a
// time: starting a different UUID cancels the live one.
type Fetcher struct {
	baseURL string
	http    *http.Client
	clock   clock.Clock
	retry   time.Duration
	timeout time.Duration
	keys    KeySetter
	relay   Registrar

	// A successful attempt installs its key under mu, so a superseded
	// session can never install one. Listener and relay notification run
	// after mu is released, under notifyMu, which keeps notifications in
	// install order without blocking Start/Stop. Lock order: notifyMu, mu.
	mu       sync.Mutex
	notifyMu sync.Mutex
	active   map[string]*fetchState

	attemptDone func(uuid string) // test hook, runs after each attempt settles
}

type fetchState struct {
	uuid    string
	ctx     context.Context
	cancel  context.CancelFunc
	timer   clock.Timer
	backoff *backoff.Backoff
}

func NewFetcher(cfg FetcherConfig, keys KeySetter, relay Registrar) *Fetcher {
	f := &Fetcher{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    cfg.HTTPClient,
		clock:   cfg.Clock,
		retry:   cfg.RetryInterval,
		timeout: cfg.RequestTimeout,
		keys:    keys,
		relay:   relay,
		active:  make(map[string]*fetchState),
	}
	if f.http == nil {
		f.http = http.DefaultClient
	}
	if f.clock == nil {
		f.clock = clock.Real()
	}
	if f.retry <= 0 {
		f.retry = DefaultRetryInterval
	}
	if f.timeout <= 0 {
		f.timeout = DefaultRequestTimeout
	}
	return f
}

// StartFetching begins polling for uuid. It returns immediately if uuid is
// already being fetched.
func (f *Fetcher) StartFetching(uuid string) {
	f.mu.Lock()
	if _, ok := f.active[uuid]; ok {
		f.mu.Unlock()
		slog.Debug("key fetch already active", "uuid", uuid)
		return
	}
	for _, other := range f.active {
		slog.Info("superseding key fetch", "old_uuid", other.uuid, "uuid", uuid)
		f.stopLocked(other)
	}
	ctx, cancel := context.WithCancel(context.Background())
	st := &fetchState{
		uuid:    uuid,
		ctx:     ctx,
		cancel:  cancel,
		backoff: backoff.Fixed(f.retry),
	}
	f.active[uuid] = st
	f.mu.Unlock()

	slog.Info("fetching key", "uuid", uuid)
	go f.attempt(st)
}

// StopFetching cancels any in-flight request and pending retry for uuid.
func (f *Fetcher) StopFetching(uuid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.active[uuid]; ok {
		f.stopLocked(st)
	}
}

// Cleanup stops every active fetch.
func (f *Fetcher) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range f.active {
		f.stopLocked(st)
	}
}

// Active reports whether uuid is currently being fetched.
func (f *Fetcher) Active(uuid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.active[uuid]
	return ok
}

func (f *Fetcher) stopLocked(st *fetchState) {
	st.cancel()
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	delete(f.active, st.uuid)
}

func (f *Fetcher) current(st *fetchState) bool {
	return f.active[st.uuid] == st
}

func (f *Fetcher) attempt(st *fetchState) {
	if f.attemptDone != nil {
		defer f.attemptDone(st.uuid)
	}

	f.mu.Lock()
	live := f.current(st)
	f.mu.Unlock()
	if !live {
		return
	}

	key, err := f.fetch(st.ctx, st.uuid)

	f.notifyMu.Lock()
	defer f.notifyMu.Unlock()

	f.mu.Lock()
	notify, ok := f.settle(st, key, err)
	f.mu.Unlock()
	if !ok {
		return
	}

	notify()
	if f.relay != nil {
		f.relay.RegisterUUID(key.UUID, key.ExpirationTime)
	}
}

// settle applies the outcome of one attempt. It reports true only when the
// key was installed; the caller must then run notify. Called with f.mu held.
func (f *Fetcher) settle(st *fetchState, key KeyData, err error) (func(), bool) {
	if !f.current(st) {
		slog.Debug("discarding key fetch result for cancelled session", "uuid", st.uuid)
		return nil, false
	}

	switch {
	case errors.Is(err, ErrTransientFetch):
		delay := st.backoff.Next()
		slog.Debug("key fetch failed, retrying", "uuid", st.uuid, "in", delay, "err", err)
		st.timer = f.clock.AfterFunc(delay, func() { f.attempt(st) })
		return nil, false
	case err != nil:
		slog.Error("key fetch failed", "uuid", st.uuid, "err", err)
		f.stopLocked(st)
		return nil, false
	}

	// Success is terminal for this uuid whatever happens next.
	f.stopLocked(st)

	if key.ExpiredAt(f.clock.Now()) {
		slog.Warn("fetched key already expired", "uuid", st.uuid, "expiration", key.ExpirationTime)
		return nil, false
	}
	notify, ok := f.keys.InstallKey(key)
	if !ok {
		slog.Error("key manager rejected fetched key", "uuid", st.uuid)
		return nil, false
	}
	return notify, true
}

type fetchKeyResponse struct {
	PublicKey      string `json:"publicKey"`
	ExpirationTime string `json:"expirationTime"`
}

type fetchKeyError struct {
	Error string `json:"error"`
}

// fetch performs one GET {base}/api/fetch-key/{uuid}. Errors wrap either
// ErrTransientFetch or ErrTerminalFetch.
func (f *Fetcher) fetch(ctx context.Context, uuid string) (KeyData, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	endpoint := f.baseURL + "/api/fetch-key/" + url.PathEscape(uuid)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return KeyData{}, fmt.Errorf("%w: build request: %v", ErrTerminalFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return KeyData{}, fmt.Errorf("%w: %v", ErrTransientFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return KeyData{}, fmt.Errorf("%w: HTTP %d", ErrTransientFetch, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var e fetchKeyError
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return KeyData{}, fmt.Errorf("%w: HTTP %d: %s", ErrTerminalFetch, resp.StatusCode, e.Error)
		}
		return KeyData{}, fmt.Errorf("%w: HTTP %d", ErrTerminalFetch, resp.StatusCode)
	}

	var body fetchKeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return KeyData{}, fmt.Errorf("%w: decode response: %v", ErrTerminalFetch, err)
	}
	if body.PublicKey == "" {
		return KeyData{}, fmt.Errorf("%w: response missing publicKey", ErrTerminalFetch)
	}
	exp, err := time.Parse(time.RFC3339, body.ExpirationTime)
	if err != nil {
		return KeyData{}, fmt.Errorf("%w: expirationTime: %v", ErrTerminalFetch, err)
	}
	return KeyData{PublicKey: body.PublicKey, ExpirationTime: exp, UUID: uuid}, nil
}
