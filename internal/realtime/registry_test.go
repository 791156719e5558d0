package realtime

import (
	"sort"
	"testing"
	"time"
)

func TestRegistryLastConnectWins(t *testing.T) {
	r := NewRegistry()
	first := newFakeConn("u1")
	second := newFakeConn("u1")

	if prev := r.Register("u1", first); prev != nil {
		t.Fatalf("first Register returned %v", prev)
	}
	if prev := r.Register("u1", second); prev != first {
		t.Fatalf("second Register returned %v, want first conn", prev)
	}
	got, ok := r.Lookup("u1")
	if !ok || got != second {
		t.Errorf("Lookup = %v, want newest conn", got)
	}
}

// Regression: a late disconnect of a displaced connection must not remove
// the newer connection's entry.
func TestRegistryStaleUnregisterIgnored(t *testing.T) {
	r := NewRegistry()
	old := newFakeConn("u1")
	cur := newFakeConn("u1")
	r.Register("u1", old)
	r.Register("u1", cur)

	if r.Unregister("u1", old) {
		t.Error("Unregister(old) = true, want false")
	}
	if _, ok := r.Lookup("u1"); !ok {
		t.Fatal("newer connection was removed")
	}
	if !r.Unregister("u1", cur) {
		t.Error("Unregister(cur) = false, want true")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistryReRegisterSameConn(t *testing.T) {
	r := NewRegistry()
	c := newFakeConn("u1")
	r.Register("u1", c)
	if prev := r.Register("u1", c); prev != nil {
		t.Errorf("re-registering same conn returned %v", prev)
	}
}

func TestRoomsJoinLeaveAll(t *testing.T) {
	rooms := NewRooms()
	a := newFakeConn("a")
	b := newFakeConn("b")
	rooms.Join("c1", a)
	rooms.Join("c2", a)
	rooms.Join("c1", b)
	rooms.Join("c1", a) // idempotent

	if n := len(rooms.Members("c1")); n != 2 {
		t.Fatalf("c1 members = %d, want 2", n)
	}
	left := rooms.LeaveAll(a)
	sort.Strings(left)
	if len(left) != 2 || left[0] != "c1" || left[1] != "c2" {
		t.Errorf("LeaveAll = %v", left)
	}
	if rooms.In("c1", a) || !rooms.In("c1", b) {
		t.Error("membership wrong after LeaveAll")
	}
	if n := len(rooms.Members("c2")); n != 0 {
		t.Errorf("c2 members = %d, want 0", n)
	}
	if chats := rooms.ChatsOf(a); len(chats) != 0 {
		t.Errorf("ChatsOf(a) = %v", chats)
	}
}

func TestTypingExpireAndClear(t *testing.T) {
	ty := NewTyping()
	t0 := time.Unix(1000, 0)
	ty.Set("c1", "u1", true, t0)
	ty.Set("c1", "u2", true, t0.Add(4*time.Second))
	ty.Set("c2", "u1", true, t0)

	expired := ty.Expire(t0.Add(5*time.Second), 5*time.Second)
	if len(expired) != 2 {
		t.Fatalf("expired = %v, want both u1 entries", expired)
	}
	for _, e := range expired {
		if e.UserID != "u1" {
			t.Errorf("expired %v", e)
		}
	}
	if got := ty.Typers("c1"); len(got) != 1 || got[0] != "u2" {
		t.Errorf("c1 typers = %v", got)
	}

	if cleared := ty.ClearUser("u2"); len(cleared) != 1 || cleared[0] != "c1" {
		t.Errorf("ClearUser = %v", cleared)
	}
	if got := ty.Typers("c1"); len(got) != 0 {
		t.Errorf("typers after clear = %v", got)
	}
}

func TestTypingStopRemoves(t *testing.T) {
	ty := NewTyping()
	now := time.Now()
	ty.Set("c1", "u1", true, now)
	ty.Set("c1", "u1", false, now)
	if got := ty.Typers("c1"); len(got) != 0 {
		t.Errorf("typers = %v", got)
	}
}

func TestHubJoinAndEvictUser(t *testing.T) {
	h := NewHub()
	c := newFakeConn("u1")
	if h.JoinUser("u1", "c1") {
		t.Error("JoinUser for offline user = true")
	}
	h.Registry.Register("u1", c)
	if !h.JoinUser("u1", "c1") || !h.Rooms.In("c1", c) {
		t.Fatal("JoinUser did not subscribe live connection")
	}
	if !h.EvictUser("u1", "c1") || h.Rooms.In("c1", c) {
		t.Error("EvictUser did not unsubscribe")
	}
}

func TestHubWithChatSerializes(t *testing.T) {
	h := NewHub()
	const n = 50
	var order []int
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func(i int) {
			h.WithChat("c1", func() { order = append(order, i) })
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}
	if len(order) != n {
		t.Errorf("got %d entries, want %d (lost update under lock)", len(order), n)
	}
}
