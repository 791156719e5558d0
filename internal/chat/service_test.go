package chat

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rohitpatil2845/BAATKANE/internal/apperr"
	"github.com/rohitpatil2845/BAATKANE/internal/realtime"
	"github.com/rohitpatil2845/BAATKANE/internal/store"
)

type fakeConn struct {
	userID string

	mu     sync.Mutex
	frames []json.RawMessage
	names  []string
}

func (f *fakeConn) ID() string        { return "conn-" + f.userID }
func (f *fakeConn) UserID() string    { return f.userID }
func (f *fakeConn) Close(int, string) {}

func (f *fakeConn) Send(p []byte) error {
	var fr struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(p, &fr); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, fr.Event)
	f.frames = append(f.frames, fr.Data)
	return nil
}

// received decodes the data of every frame named event.
func received[T any](t *testing.T, f *fakeConn, event string) []T {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []T
	for i, name := range f.names {
		if name != event {
			continue
		}
		var v T
		if err := json.Unmarshal(f.frames[i], &v); err != nil {
			t.Fatal(err)
		}
		out = append(out, v)
	}
	return out
}

type fixture struct {
	db  *store.DB
	hub *realtime.Hub
	svc *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	hub := realtime.NewHub()
	return &fixture{
		db:  db,
		hub: hub,
		svc: NewService(db, hub, realtime.NewBroadcaster(hub, nil, nil), nil),
	}
}

func (f *fixture) user(t *testing.T, name string) *store.User {
	t.Helper()
	u := &store.User{Name: name, Username: name}
	if err := f.db.CreateUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	return u
}

// online registers a live connection for u.
func (f *fixture) online(u *store.User) *fakeConn {
	c := &fakeConn{userID: u.ID}
	f.hub.Registry.Register(u.ID, c)
	return c
}

func (f *fixture) group(t *testing.T, admin *store.User, members ...*store.User) *realtime.ChatPayload {
	t.Helper()
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	p, _, err := f.svc.CreateChat(context.Background(), admin.ID, CreateInput{IsGroup: true, Name: "team", MemberIDs: ids})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

type chatEvent struct {
	Chat realtime.ChatPayload `json:"chat"`
}

func TestCreateGroupAnnouncesToOnlineMembers(t *testing.T) {
	f := newFixture(t)
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	aliceConn := f.online(alice)
	bobConn := f.online(bob)

	p := f.group(t, alice, bob, carol)
	if p.AdminID != alice.ID || len(p.Members) != 3 {
		t.Fatalf("chat = %+v", p)
	}
	for _, c := range []*fakeConn{aliceConn, bobConn} {
		got := received[chatEvent](t, c, realtime.EvtNewChat)
		if len(got) != 1 || got[0].Chat.ID != p.ID {
			t.Errorf("%s new_chat = %+v", c.userID, got)
		}
		if !f.hub.Rooms.In(p.ID, c) {
			t.Errorf("%s not joined to the new room", c.userID)
		}
	}
}

func TestCreateDirectChatReusesExisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	bobConn := f.online(bob)

	first, created, err := f.svc.CreateChat(ctx, alice.ID, CreateInput{MemberIDs: []string{bob.ID}})
	if err != nil || !created {
		t.Fatalf("first = %v, %v", created, err)
	}
	again, created, err := f.svc.CreateChat(ctx, bob.ID, CreateInput{MemberIDs: []string{alice.ID, bob.ID}})
	if err != nil {
		t.Fatal(err)
	}
	if created || again.ID != first.ID {
		t.Errorf("second create made a new chat %s (created=%v)", again.ID, created)
	}
	if got := received[chatEvent](t, bobConn, realtime.EvtNewChat); len(got) != 1 {
		t.Errorf("bob got %d new_chat events, want 1", len(got))
	}

	if _, _, err := f.svc.CreateChat(ctx, alice.ID, CreateInput{}); !apperr.Is(err, apperr.Validation) {
		t.Errorf("one-to-one with nobody: %v", err)
	}
}

func TestJoinRequestFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	aliceConn := f.online(alice)
	carolConn := f.online(carol)
	g := f.group(t, alice, bob)

	req, err := f.svc.RequestJoin(ctx, g.ID, carol.ID)
	if err != nil {
		t.Fatal(err)
	}
	got := received[map[string]string](t, aliceConn, realtime.EvtJoinRequestReceived)
	if len(got) != 1 || got[0]["requestId"] != req.ID || got[0]["userId"] != carol.ID {
		t.Errorf("admin got %+v", got)
	}

	if _, err := f.svc.RequestJoin(ctx, g.ID, carol.ID); !apperr.Is(err, apperr.Conflict) {
		t.Errorf("duplicate request: %v", err)
	}
	if _, err := f.svc.JoinRequests(ctx, bob.ID, g.ID); !apperr.Is(err, apperr.Authorization) {
		t.Errorf("non-admin listing: %v", err)
	}
	if _, err := f.svc.ResolveJoinRequest(ctx, bob.ID, g.ID, req.ID, true); !apperr.Is(err, apperr.Authorization) {
		t.Errorf("non-admin approve: %v", err)
	}

	pending, err := f.svc.JoinRequests(ctx, alice.ID, g.ID)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v, %v", pending, err)
	}

	if _, err := f.svc.ResolveJoinRequest(ctx, alice.ID, g.ID, req.ID, true); err != nil {
		t.Fatal(err)
	}
	approved := received[chatEvent](t, carolConn, realtime.EvtJoinRequestApproved)
	if len(approved) != 1 || len(approved[0].Chat.Members) != 3 {
		t.Errorf("approval = %+v", approved)
	}
	if !f.hub.Rooms.In(g.ID, carolConn) {
		t.Error("approved member not joined to the room")
	}

	// A resolved request cannot be resolved again.
	if _, err := f.svc.ResolveJoinRequest(ctx, alice.ID, g.ID, req.ID, false); !apperr.Is(err, apperr.Conflict) {
		t.Errorf("second resolve: %v", err)
	}
}

func TestRejectJoinRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, carol := f.user(t, "alice"), f.user(t, "carol")
	carolConn := f.online(carol)
	g := f.group(t, alice)

	req, err := f.svc.RequestJoin(ctx, g.ID, carol.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ResolveJoinRequest(ctx, alice.ID, g.ID, req.ID, false); err != nil {
		t.Fatal(err)
	}
	if got := received[map[string]string](t, carolConn, realtime.EvtJoinRequestRejected); len(got) != 1 || got[0]["chatId"] != g.ID {
		t.Errorf("rejection = %+v", got)
	}
	if ok, _ := f.db.IsMember(ctx, g.ID, carol.ID); ok {
		t.Error("rejected user became a member")
	}
}

func TestResolveJoinRequestFromAnotherChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, carol := f.user(t, "alice"), f.user(t, "carol")
	g1 := f.group(t, alice)
	g2 := f.group(t, alice)

	req, err := f.svc.RequestJoin(ctx, g1.ID, carol.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ResolveJoinRequest(ctx, alice.ID, g2.ID, req.ID, true); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("cross-chat resolve: %v", err)
	}
}

func TestLeaveGroupAsAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	aliceConn := f.online(alice)
	bobConn := f.online(bob)
	g := f.group(t, alice, bob)

	res, err := f.svc.LeaveGroup(ctx, g.ID, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.NewAdminID != bob.ID {
		t.Errorf("new admin = %q, want bob", res.NewAdminID)
	}
	if got := received[map[string]string](t, aliceConn, realtime.EvtRemovedFromGroup); len(got) != 1 {
		t.Errorf("leaver got %d removed_from_group", len(got))
	}
	if f.hub.Rooms.In(g.ID, aliceConn) {
		t.Error("leaver still in the room")
	}
	left := received[map[string]string](t, bobConn, realtime.EvtMemberLeftGroup)
	if len(left) != 1 || left[0]["userId"] != alice.ID || left[0]["newAdminId"] != bob.ID {
		t.Errorf("member_left_group = %+v", left)
	}
	if got := received[map[string]string](t, aliceConn, realtime.EvtMemberLeftGroup); len(got) != 0 {
		t.Error("leaver received member_left_group")
	}
}

func TestRemoveMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	bobConn := f.online(bob)
	g := f.group(t, alice, bob, carol)

	if err := f.svc.RemoveMember(ctx, carol.ID, g.ID, bob.ID); !apperr.Is(err, apperr.Authorization) {
		t.Errorf("non-admin remove: %v", err)
	}
	if err := f.svc.RemoveMember(ctx, alice.ID, g.ID, alice.ID); !apperr.Is(err, apperr.Validation) {
		t.Errorf("admin removing self: %v", err)
	}
	if err := f.svc.RemoveMember(ctx, alice.ID, g.ID, bob.ID); err != nil {
		t.Fatal(err)
	}
	if got := received[map[string]string](t, bobConn, realtime.EvtRemovedFromGroup); len(got) != 1 {
		t.Errorf("removed member got %d events", len(got))
	}
	if ok, _ := f.db.IsMember(ctx, g.ID, bob.ID); ok {
		t.Error("bob is still a member")
	}
}

func TestHistoryIncludesReceipts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, eve := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "eve")
	g := f.group(t, alice, bob)

	m, err := f.db.AppendMessage(ctx, &store.Message{ChatID: g.ID, UserID: alice.ID, Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.db.UpsertRead(ctx, m.ID, bob.ID, time.Now()); err != nil {
		t.Fatal(err)
	}

	hist, err := f.svc.History(ctx, bob.ID, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || len(hist[0].ReadBy) != 1 || hist[0].ReadBy[0].Username != "bob" {
		t.Errorf("history = %+v", hist)
	}
	if _, err := f.svc.History(ctx, eve.ID, g.ID); !apperr.Is(err, apperr.Authorization) {
		t.Errorf("outsider history: %v", err)
	}
}

func TestSearchGroupsAnnotatesUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, carol := f.user(t, "alice"), f.user(t, "carol")
	g := f.group(t, alice)
	if _, err := f.svc.RequestJoin(ctx, g.ID, carol.ID); err != nil {
		t.Fatal(err)
	}

	hits, err := f.svc.SearchGroups(ctx, carol.ID, "tea")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].IsMember || !hits[0].HasPendingRequest || hits[0].MemberCount != 1 {
		t.Errorf("hits = %+v", hits)
	}
	if hits, _ := f.svc.SearchGroups(ctx, carol.ID, "  "); len(hits) != 0 {
		t.Errorf("blank query matched %d groups", len(hits))
	}
}

func TestListChatsCarriesLastMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	g := f.group(t, alice, bob)
	dm, _, err := f.svc.CreateChat(ctx, alice.ID, CreateInput{MemberIDs: []string{carol.ID}})
	if err != nil {
		t.Fatal(err)
	}
	for _, text := range []string{"first", "latest"} {
		if _, err := f.db.AppendMessage(ctx, &store.Message{ChatID: g.ID, UserID: bob.ID, Content: text}); err != nil {
			t.Fatal(err)
		}
	}

	chats, err := f.svc.ListChats(ctx, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 {
		t.Fatalf("alice has %d chats, want 2", len(chats))
	}
	for _, c := range chats {
		switch c.ID {
		case g.ID:
			if c.LastMessage == nil || c.LastMessage.Content != "latest" {
				t.Errorf("group last message = %+v", c.LastMessage)
			}
			if len(c.Members) != 2 {
				t.Errorf("group members = %d", len(c.Members))
			}
		case dm.ID:
			if c.LastMessage != nil {
				t.Errorf("empty chat last message = %+v", c.LastMessage)
			}
		default:
			t.Errorf("unexpected chat %s", c.ID)
		}
	}

	chats, err = f.svc.ListChats(ctx, bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || chats[0].ID != g.ID {
		t.Errorf("bob's chats = %+v", chats)
	}
}

func TestSearchUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice")
	f.user(t, "alan")
	f.user(t, "bob")

	hits, err := f.svc.SearchUsers(ctx, alice.ID, " al ")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Username != "alan" || hits[0].Status != string(store.PresenceOffline) {
		t.Errorf("hits = %+v", hits)
	}
	if hits, _ := f.svc.SearchUsers(ctx, alice.ID, ""); hits == nil || len(hits) != 0 {
		t.Errorf("blank query = %#v, want empty list", hits)
	}
}

func TestScheduleMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, eve := f.user(t, "alice"), f.user(t, "eve")
	g := f.group(t, alice)
	at := time.Now().Add(time.Hour)

	if _, err := f.svc.ScheduleMessage(ctx, eve.ID, ScheduleInput{ChatID: g.ID, Content: "x", ScheduledTime: at}); !apperr.Is(err, apperr.Authorization) {
		t.Errorf("outsider schedule: %v", err)
	}
	if _, err := f.svc.ScheduleMessage(ctx, alice.ID, ScheduleInput{ChatID: g.ID, Content: "x", ScheduledTime: at, IsRecurring: true}); !apperr.Is(err, apperr.Validation) {
		t.Errorf("recurring without pattern: %v", err)
	}

	sm, err := f.svc.ScheduleMessage(ctx, alice.ID, ScheduleInput{
		ChatID: g.ID, Content: "standup", ScheduledTime: at, IsRecurring: true, Pattern: store.RecurWeekly,
	})
	if err != nil {
		t.Fatal(err)
	}
	list, err := f.svc.ListScheduled(ctx, alice.ID, g.ID)
	if err != nil || len(list) != 1 || list[0].ID != sm.ID {
		t.Fatalf("list = %+v, %v", list, err)
	}
	if err := f.svc.DeleteScheduled(ctx, eve.ID, sm.ID); !apperr.Is(err, apperr.Authorization) {
		t.Errorf("delete by other user: %v", err)
	}
	if err := f.svc.DeleteScheduled(ctx, alice.ID, sm.ID); err != nil {
		t.Fatal(err)
	}
}
