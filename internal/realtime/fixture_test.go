package realtime

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rohitpatil2845/BAATKANE/internal/auth"
	"github.com/rohitpatil2845/BAATKANE/internal/bus"
	"github.com/rohitpatil2845/BAATKANE/internal/store"
)

// fakeConn records every frame it is sent.
type fakeConn struct {
	id     string
	userID string

	mu     sync.Mutex
	frames [][]byte
	closed bool
	code   int
}

func newFakeConn(userID string) *fakeConn {
	return &fakeConn{id: uuid.NewString(), userID: userID}
}

func (f *fakeConn) ID() string     { return f.id }
func (f *fakeConn) UserID() string { return f.userID }

func (f *fakeConn) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errConnClosed
	}
	f.frames = append(f.frames, append([]byte(nil), p...))
	return nil
}

func (f *fakeConn) Close(code int, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.code = code
	}
}

func (f *fakeConn) closeCode() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.code
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// received returns the data of every frame named event, in order.
func (f *fakeConn) received(t *testing.T, event string) []json.RawMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []json.RawMessage
	for _, raw := range f.frames {
		var fr frame
		if err := json.Unmarshal(raw, &fr); err != nil {
			t.Fatalf("bad frame %q: %v", raw, err)
		}
		if fr.Event == event {
			out = append(out, fr.Data)
		}
	}
	return out
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

type recordingHook struct {
	mu   sync.Mutex
	msgs []store.MessageView
}

func (h *recordingHook) MessagePosted(m store.MessageView) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, m)
}

type fixture struct {
	db    *store.DB
	hub   *Hub
	bus   *bus.Bus
	out   *Broadcaster
	gw    *Gateway
	authn *auth.Authenticator
	hook  *recordingHook
	now   time.Time
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:    testDB(t),
		hub:   NewHub(),
		bus:   bus.New(),
		authn: auth.New("test-secret", time.Hour),
		hook:  &recordingHook{},
		now:   time.UnixMilli(1_700_000_000_000),
	}
	f.out = NewBroadcaster(f.hub, f.bus, nil)
	f.gw = NewGateway(f.db, f.hub, f.out, f.authn, f.bus, nil, Options{
		TypingTTL: 5 * time.Second,
		Hook:      f.hook,
		Now:       func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) user(t *testing.T, username string) *store.User {
	t.Helper()
	u := &store.User{Name: username, Username: username}
	if err := f.db.CreateUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	return u
}

func (f *fixture) group(t *testing.T, admin string, members ...string) *store.Chat {
	t.Helper()
	c := &store.Chat{IsGroup: true, Name: "team", AdminID: admin}
	if err := f.db.CreateChat(context.Background(), c, members); err != nil {
		t.Fatal(err)
	}
	return c
}

func (f *fixture) direct(t *testing.T, a, b string) *store.Chat {
	t.Helper()
	c := &store.Chat{}
	if err := f.db.CreateChat(context.Background(), c, []string{a, b}); err != nil {
		t.Fatal(err)
	}
	return c
}

func (f *fixture) connect(t *testing.T, userID string) (*Session, *fakeConn) {
	t.Helper()
	tok, _, err := f.authn.Issue(userID)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	s := f.gw.NewSession()
	if err := s.Authenticate(ctx, tok); err != nil {
		t.Fatal(err)
	}
	c := newFakeConn(userID)
	if err := s.Activate(ctx, c); err != nil {
		t.Fatal(err)
	}
	return s, c
}

func emit(t *testing.T, s *Session, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		t.Fatal(err)
	}
	s.Handle(context.Background(), raw)
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}
