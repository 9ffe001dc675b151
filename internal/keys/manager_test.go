package keys

import (
	"testing"
	"time"

	"github.com/ehrlich-b/deskbridge/internal/clock"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSetKeyRejectsExpired(t *testing.T) {
	clk := clock.Fake(epoch)
	m := NewManager(clk)
	called := false
	m.OnKeySet(func(KeyData) { called = true })

	if m.SetKey(KeyData{UUID: "u1", PublicKey: "pk", ExpirationTime: epoch.Add(-time.Hour)}) {
		t.Fatal("SetKey accepted an expired key")
	}
	if m.SetKey(KeyData{UUID: "u1", PublicKey: "pk", ExpirationTime: epoch}) {
		t.Fatal("SetKey accepted a key expiring exactly now")
	}
	if _, ok := m.CurrentKey(); ok {
		t.Error("CurrentKey should be empty")
	}
	if called {
		t.Error("listener fired for a rejected key")
	}
	if clk.PendingCount() != 0 {
		t.Errorf("pending timers = %d, want 0", clk.PendingCount())
	}
}

func TestSetKeyNotifiesAndExpiresOnTimer(t *testing.T) {
	clk := clock.Fake(epoch)
	m := NewManager(clk)

	var set []KeyData
	var expired []KeyData
	m.OnKeySet(func(k KeyData) { set = append(set, k) })
	m.OnExpired(func(k KeyData) { expired = append(expired, k) })

	k := KeyData{UUID: "u1", PublicKey: "pk", ExpirationTime: epoch.Add(10 * time.Minute)}
	if !m.SetKey(k) {
		t.Fatal("SetKey rejected a valid key")
	}
	if len(set) != 1 || set[0].UUID != "u1" {
		t.Fatalf("set listener calls = %+v", set)
	}
	if !m.HasValidKey() {
		t.Fatal("HasValidKey false right after SetKey")
	}

	clk.Advance(10*time.Minute - time.Nanosecond)
	if !m.HasValidKey() {
		t.Fatal("key invalid before its expiration")
	}
	if len(expired) != 0 {
		t.Fatalf("expired early: %+v", expired)
	}

	clk.Advance(time.Nanosecond)
	if m.HasValidKey() {
		t.Fatal("key still valid at its expiration")
	}
	if len(expired) != 1 || expired[0].UUID != "u1" {
		t.Fatalf("expired listener calls = %+v", expired)
	}

	m.ExpireKey()
	clk.Advance(time.Hour)
	if len(expired) != 1 {
		t.Errorf("expiry fired %d times, want 1", len(expired))
	}
}

func TestHasValidKeyLazilyExpires(t *testing.T) {
	clk := clock.Fake(epoch)
	m := NewManager(clk)
	expired := 0
	m.OnExpired(func(KeyData) { expired++ })

	m.SetKey(KeyData{UUID: "u1", ExpirationTime: epoch.Add(time.Minute)})
	// Jump past the expiration without letting the timer run.
	clk.Set(epoch.Add(2 * time.Minute))

	if m.HasValidKey() {
		t.Fatal("HasValidKey true for a key past its expiration")
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}
	if clk.PendingCount() != 0 {
		t.Errorf("timer left armed after lazy expiry")
	}
	// The timer was stopped, so firing what is due changes nothing.
	clk.Advance(0)
	if expired != 1 {
		t.Errorf("expired = %d after Advance, want 1", expired)
	}
}

func TestSetKeyReplacesPrevious(t *testing.T) {
	clk := clock.Fake(epoch)
	m := NewManager(clk)
	var expired []string
	m.OnExpired(func(k KeyData) { expired = append(expired, k.UUID) })

	m.SetKey(KeyData{UUID: "u1", ExpirationTime: epoch.Add(time.Minute)})
	m.SetKey(KeyData{UUID: "u2", ExpirationTime: epoch.Add(time.Hour)})

	if clk.PendingCount() != 1 {
		t.Fatalf("pending timers = %d, want 1", clk.PendingCount())
	}

	clk.Advance(2 * time.Minute)
	k, ok := m.ValidKey()
	if !ok || k.UUID != "u2" {
		t.Fatalf("ValidKey = %+v, %v; want u2", k, ok)
	}
	if len(expired) != 0 {
		t.Fatalf("replaced key's timer fired: %v", expired)
	}

	clk.Advance(time.Hour)
	if len(expired) != 1 || expired[0] != "u2" {
		t.Errorf("expired = %v, want [u2]", expired)
	}
}

func TestExpireKeyWithoutKeyIsNoop(t *testing.T) {
	m := NewManager(clock.Fake(epoch))
	calls := 0
	m.OnExpired(func(KeyData) { calls++ })
	m.ExpireKey()
	m.ExpireKey()
	if calls != 0 {
		t.Errorf("expired listener called %d times", calls)
	}
}

func TestCleanupIsSilent(t *testing.T) {
	clk := clock.Fake(epoch)
	m := NewManager(clk)
	calls := 0
	m.OnExpired(func(KeyData) { calls++ })

	m.SetKey(KeyData{UUID: "u1", ExpirationTime: epoch.Add(time.Minute)})
	m.Cleanup()

	if _, ok := m.CurrentKey(); ok {
		t.Error("key still held after Cleanup")
	}
	clk.Advance(time.Hour)
	if calls != 0 {
		t.Errorf("Cleanup notified expiry listeners %d times", calls)
	}
}

func TestInstallKeyDefersListeners(t *testing.T) {
	m := NewManager(clock.Fake(epoch))
	var got []string
	m.OnKeySet(func(k KeyData) { got = append(got, k.UUID) })

	notify, ok := m.InstallKey(KeyData{UUID: "u1", ExpirationTime: epoch.Add(time.Minute)})
	if !ok {
		t.Fatal("InstallKey rejected a valid key")
	}
	if !m.HasValidKey() {
		t.Error("key not installed")
	}
	if len(got) != 0 {
		t.Fatalf("listeners ran before notify: %v", got)
	}
	notify()
	if len(got) != 1 || got[0] != "u1" {
		t.Errorf("listeners = %v, want [u1]", got)
	}

	if _, ok := m.InstallKey(KeyData{UUID: "old", ExpirationTime: epoch}); ok {
		t.Error("InstallKey accepted an expired key")
	}
}
