package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rohitpatil2845/BAATKANE/internal/daemon"
	"github.com/rohitpatil2845/BAATKANE/internal/paths"
	"go.uber.org/fx"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.baatkare/config.toml)")
	listenFlag := flag.String("listen", "", "HTTP listen address (overrides listen_addr)")
	flag.Parse()

	instance := paths.Resolve(*instanceFlag)
	if err := paths.ValidateName(instance); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			Instance:   instance,
			ConfigPath: *configFlag,
			ListenAddr: *listenFlag,
		}),
	)

	app.Run()
}
