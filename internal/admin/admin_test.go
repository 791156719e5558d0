package admin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rohitpatil2845/BAATKANE/internal/auth"
	"github.com/rohitpatil2845/BAATKANE/internal/bus"
	"github.com/rohitpatil2845/BAATKANE/internal/realtime"
	"github.com/rohitpatil2845/BAATKANE/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

type welcomeRecorder struct {
	users []string
}

func (w *welcomeRecorder) EnsureBotChat(_ context.Context, u store.User) (*store.Chat, bool, error) {
	w.users = append(w.users, u.ID)
	return &store.Chat{ID: "bot-chat-" + u.Username}, true, nil
}

type idleConn struct{ id, userID string }

func (c idleConn) ID() string        { return c.id }
func (c idleConn) UserID() string    { return c.userID }
func (c idleConn) Send([]byte) error { return nil }
func (c idleConn) Close(int, string) {}

type fixture struct {
	db       *store.DB
	hub      *realtime.Hub
	bus      *bus.Bus
	authn    *auth.Authenticator
	welcomer *welcomeRecorder
	client   *Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	// Use /tmp for short socket paths (macOS 104-char limit).
	tmpDir, err := os.MkdirTemp("/tmp", "baatkare-admin-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	db, err := store.Open(filepath.Join(tmpDir, "chat.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		db:       db,
		hub:      realtime.NewHub(),
		bus:      bus.New(),
		authn:    auth.New("test-secret", time.Hour),
		welcomer: &welcomeRecorder{},
	}
	svc := NewService(Info{Instance: "test", ListenAddr: "127.0.0.1:0"}, db, f.hub, f.authn, f.welcomer, f.bus, zap.NewNop())

	socketPath := filepath.Join(tmpDir, "a.sock")
	srv, err := NewServer(socketPath, svc, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	t.Cleanup(func() { srv.Stop(context.Background()) })

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket mode = %o, want 600", perm)
	}

	client, err := NewClient(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })
	f.client = client
	return f
}

func ctxTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := ctxTimeout(t)

	// Start flips health to SERVING asynchronously.
	deadline := time.Now().Add(3 * time.Second)
	for {
		ok, err := f.client.Healthy(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("admin service not SERVING after Start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	f.hub.Registry.Register("u1", idleConn{id: "c1", userID: "u1"})
	st, err := f.client.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st["instance"] != "test" {
		t.Errorf("instance = %v", st["instance"])
	}
	if st["online"] != float64(1) {
		t.Errorf("online = %v, want 1", st["online"])
	}
	if st["schema_version"] != float64(2) {
		t.Errorf("schema_version = %v, want 2", st["schema_version"])
	}
	if int(st["pid"].(float64)) != os.Getpid() {
		t.Errorf("pid = %v", st["pid"])
	}
}

func TestCreateUserAndIssueToken(t *testing.T) {
	f := newFixture(t)
	ctx := ctxTimeout(t)

	u, err := f.client.CreateUser(ctx, "Alice", "alice")
	if err != nil {
		t.Fatal(err)
	}
	id, _ := u["id"].(string)
	if id == "" {
		t.Fatalf("CreateUser = %v", u)
	}
	if u["bot_chat_id"] != "bot-chat-alice" {
		t.Errorf("bot chat = %v", u["bot_chat_id"])
	}
	if len(f.welcomer.users) != 1 || f.welcomer.users[0] != id {
		t.Errorf("welcomed = %v", f.welcomer.users)
	}

	_, err = f.client.CreateUser(ctx, "Alice again", "alice")
	if grpcstatus.Code(err) != codes.AlreadyExists {
		t.Errorf("duplicate username: %v", err)
	}

	token, err := f.client.IssueToken(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.authn.Verify(token)
	if err != nil || got != id {
		t.Errorf("Verify(issued) = %q, %v", got, err)
	}

	if _, err := f.client.IssueToken(ctx, "nobody"); grpcstatus.Code(err) != codes.NotFound {
		t.Errorf("token for unknown user: %v", err)
	}
}

func TestListOnline(t *testing.T) {
	f := newFixture(t)
	ctx := ctxTimeout(t)
	f.hub.Registry.Register("u2", idleConn{id: "c2", userID: "u2"})
	f.hub.Registry.Register("u1", idleConn{id: "c1", userID: "u1"})

	ids, err := f.client.Online(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "u1" || ids[1] != "u2" {
		t.Errorf("online = %v", ids)
	}
}

func TestWatchEventsFiltersByPrefix(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan map[string]any, 4)
	go func() {
		_ = f.client.WatchEvents(ctx, "scheduler.", func(evt map[string]any) { got <- evt })
	}()

	// Publish until the subscription is live.
	deadline := time.After(3 * time.Second)
	for {
		f.bus.Emit(bus.KindSessionOpened, map[string]string{"userId": "u1"})
		f.bus.Emit(bus.KindSchedulerDelivered, map[string]string{"chatId": "c1"})
		select {
		case evt := <-got:
			if evt["kind"] != bus.KindSchedulerDelivered {
				t.Fatalf("received %v, want only scheduler events", evt["kind"])
			}
			payload, _ := evt["payload"].(map[string]any)
			if payload["chatId"] != "c1" {
				t.Errorf("payload = %v", evt["payload"])
			}
			return
		case <-deadline:
			t.Fatal("no event received")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestEventToStructKeepsFramesReadable(t *testing.T) {
	hub := realtime.NewHub()
	b := bus.New()
	ch, cancel := b.Subscribe(bus.KindFanoutPrefix, 1)
	defer cancel()
	realtime.NewBroadcaster(hub, b, nil).ToAll(realtime.Outbound{
		Name: realtime.EvtUserOnline,
		Data: map[string]any{"userId": "u1"},
	}, "")

	evt := <-ch
	st, err := eventToStruct(evt)
	if err != nil {
		t.Fatal(err)
	}
	mirror, _ := st.AsMap()["payload"].(map[string]any)
	frame, ok := mirror["payload"].(map[string]any)
	if !ok {
		t.Fatalf("frame = %T %v, want a JSON object", mirror["payload"], mirror["payload"])
	}
	if frame["event"] != realtime.EvtUserOnline {
		t.Errorf("frame = %v", frame)
	}
}
