package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rohitpatil2845/BAATKANE/internal/admin"
	"github.com/rohitpatil2845/BAATKANE/internal/paths"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	instance := paths.Resolve(*instanceFlag)
	if err := paths.ValidateName(instance); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	socketPath := paths.SocketPath(instance)
	c, err := admin.NewClient(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for instance %q: %v\n", instance, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	// watch runs until interrupted; everything else is a single call.
	if args[0] == "watch" {
		cmdWatch(c, args[1:], *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "online":
		cmdOnline(ctx, c, *jsonFlag)
	case "user":
		if len(args) < 2 || args[1] != "add" {
			fmt.Fprintln(os.Stderr, "usage: chatctl user add <username> [display name]")
			os.Exit(1)
		}
		cmdUserAdd(ctx, c, args[2:], *jsonFlag)
	case "token":
		cmdToken(ctx, c, args[1:], *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatctl [--instance <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                        Show daemon status")
	fmt.Fprintln(os.Stderr, "  online                        List connected users")
	fmt.Fprintln(os.Stderr, "  user add <username> [name]    Create a user")
	fmt.Fprintln(os.Stderr, "  token [--qr] <user-id>        Issue a bearer token")
	fmt.Fprintln(os.Stderr, "  watch [prefix]                Stream daemon events")
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func cmdStatus(ctx context.Context, c *admin.Client, jsonOut bool) {
	st, err := c.Status(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(st)
		return
	}
	uptime := time.Duration(toInt64(st["uptime_ms"])) * time.Millisecond
	fmt.Printf("Instance: %v\n", st["instance"])
	fmt.Printf("Listen:   %v\n", st["listen_addr"])
	fmt.Printf("PID:      %d\n", toInt64(st["pid"]))
	fmt.Printf("Uptime:   %s\n", uptime.Round(time.Second))
	fmt.Printf("Users:    %d (%d online)\n", toInt64(st["users"]), toInt64(st["online"]))
	fmt.Printf("Schema:   v%d\n", toInt64(st["schema_version"]))
	fmt.Printf("Events:   %d published, %d dropped, %d watchers\n",
		toInt64(st["bus_published"]), toInt64(st["bus_dropped"]), toInt64(st["bus_subscribers"]))
}

func cmdOnline(ctx context.Context, c *admin.Client, jsonOut bool) {
	users, err := c.Online(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(users)
		return
	}
	if len(users) == 0 {
		fmt.Println("No users online.")
		return
	}
	sort.Strings(users)
	for _, id := range users {
		fmt.Println(id)
	}
}

func cmdUserAdd(ctx context.Context, c *admin.Client, args []string, jsonOut bool) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: chatctl user add <username> [display name]")
		os.Exit(1)
	}
	username, name := args[0], ""
	if len(args) > 1 {
		name = args[1]
	}
	u, err := c.CreateUser(ctx, name, username)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(u)
		return
	}
	fmt.Printf("Created %v (%v)\n", u["username"], u["id"])
	if chatID, ok := u["bot_chat_id"]; ok {
		fmt.Printf("Bot chat: %v\n", chatID)
	}
}

func cmdToken(ctx context.Context, c *admin.Client, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	qr := fs.Bool("qr", false, "render the token as a terminal QR code")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: chatctl token [--qr] <user-id>")
		os.Exit(1)
	}

	token, err := c.IssueToken(ctx, fs.Arg(0))
	if err != nil {
		fail(err)
	}
	switch {
	case jsonOut:
		outputJSON(map[string]string{"token": token})
	case *qr:
		out, err := renderQR(token)
		if err != nil {
			fail(err)
		}
		fmt.Print(out)
	default:
		fmt.Println(token)
	}
}

func cmdWatch(c *admin.Client, args []string, jsonOut bool) {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := c.WatchEvents(ctx, prefix, func(evt map[string]any) {
		if jsonOut {
			b, _ := json.Marshal(evt)
			fmt.Println(string(b))
			return
		}
		ts := time.UnixMilli(toInt64(evt["timestamp_ms"])).Format("15:04:05.000")
		payload, _ := json.Marshal(evt["payload"])
		fmt.Printf("%s %-22v %s\n", ts, evt["kind"], payload)
	})
	if err != nil && ctx.Err() == nil {
		fail(err)
	}
}

// toInt64 reads a number decoded from a protobuf Struct.
func toInt64(v any) int64 {
	f, _ := v.(float64)
	return int64(f)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
