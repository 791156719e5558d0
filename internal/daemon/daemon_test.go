package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rohitpatil2845/BAATKANE/internal/admin"
	"github.com/rohitpatil2845/BAATKANE/internal/httpapi"
	"github.com/rohitpatil2845/BAATKANE/internal/lock"
	"go.uber.org/fx"
)

type testEnv struct {
	params Params
	dbPath string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	// Use a short path to avoid macOS 104-char Unix socket limit.
	tmpDir, err := os.MkdirTemp("/tmp", "baatkare-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	t.Setenv("BAATKARE_HOME", tmpDir)
	t.Setenv("JWT_SECRET", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("PORT", "")
	t.Setenv("CHATD_LISTEN_ADDR", "")
	t.Setenv("CHATD_DB_PATH", "")
	t.Setenv("CHATD_LOG_LEVEL", "")

	configPath := filepath.Join(tmpDir, "config.toml")
	config := `jwt_secret = "test-secret"

[scheduler]
interval = "50ms"
timezone = "UTC"
`
	if err := os.WriteFile(configPath, []byte(config), 0600); err != nil {
		t.Fatal(err)
	}

	return testEnv{
		params: Params{
			Instance:   "test",
			ConfigPath: configPath,
			SocketPath: filepath.Join(tmpDir, "a.sock"),
			ListenAddr: "127.0.0.1:0",
		},
		dbPath: filepath.Join(tmpDir, "instances", "test", "chat.db"),
	}
}

// TestModuleGraphIsComplete catches providers that were added to a
// constructor signature but never registered with the module.
func TestModuleGraphIsComplete(t *testing.T) {
	env := newTestEnv(t)
	if err := fx.ValidateApp(Module(env.params)); err != nil {
		t.Fatalf("ValidateApp: %v", err)
	}
}

func TestDaemonLifecycle(t *testing.T) {
	env := newTestEnv(t)

	var httpSrv *httpapi.Server
	app := fx.New(
		Module(env.params),
		fx.NopLogger,
		fx.Populate(&httpSrv),
	)
	if err := app.Err(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatal(err)
	}
	stopped := false
	defer func() {
		if !stopped {
			_ = app.Stop(context.Background())
		}
	}()

	time.Sleep(50 * time.Millisecond)

	client, err := admin.NewClient(env.params.SocketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()

	st, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status error = %v", err)
	}
	if st["instance"] != "test" {
		t.Errorf("instance = %v, want test", st["instance"])
	}
	if st["listen_addr"] != httpSrv.Addr() {
		t.Errorf("listen_addr = %v, want %s", st["listen_addr"], httpSrv.Addr())
	}

	// A user created over the admin API gets a chat with the bot.
	u, err := client.CreateUser(ctx, "Alice", "alice")
	if err != nil {
		t.Fatalf("CreateUser error = %v", err)
	}
	botChat, _ := u["bot_chat_id"].(string)
	if botChat == "" {
		t.Fatalf("no bot chat in %v", u)
	}
	token, err := client.IssueToken(ctx, u["id"].(string))
	if err != nil {
		t.Fatalf("IssueToken error = %v", err)
	}

	base := "http://" + httpSrv.Addr()
	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/chats/%s/messages", base, botChat), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET bot chat history = %d", resp.StatusCode)
	}

	if err := app.Stop(ctx); err != nil {
		t.Fatalf("Stop error = %v", err)
	}
	stopped = true

	if _, err := os.Stat(env.params.SocketPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("socket still present after stop: %v", err)
	}
	// Stop releases the instance lock.
	lk, err := lock.Acquire(filepath.Dir(env.dbPath))
	if err != nil {
		t.Fatalf("lock after stop: %v", err)
	}
	_ = lk.Release()
}

// TestSecondDaemonRefusesHeldInstance verifies two daemons cannot share an
// instance directory.
func TestSecondDaemonRefusesHeldInstance(t *testing.T) {
	env := newTestEnv(t)

	first := fx.New(Module(env.params), fx.NopLogger)
	if err := first.Err(); err != nil {
		t.Fatal(err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = first.Stop(context.Background()) }()

	p := env.params
	p.SocketPath = p.SocketPath + "2"
	second := fx.New(Module(p), fx.NopLogger)
	err := second.Err()
	if err == nil {
		t.Fatal("second daemon started on a held instance")
	}
	var held *lock.LockHeldError
	if !errors.As(err, &held) && !strings.Contains(err.Error(), "instance lock held") {
		t.Errorf("err = %v, want lock held", err)
	}
}

func TestMissingSecretFailsFast(t *testing.T) {
	env := newTestEnv(t)
	if err := os.WriteFile(env.params.ConfigPath, []byte("listen_addr = \"127.0.0.1:0\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	app := fx.New(Module(env.params), fx.NopLogger)
	err := app.Err()
	if err == nil || !strings.Contains(err.Error(), "jwt_secret is required") {
		t.Errorf("err = %v, want missing jwt_secret", err)
	}
}
