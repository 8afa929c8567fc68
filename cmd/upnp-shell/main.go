// Command upnp-shell is an interactive client for upnp-control.
//
// Usage:
//
//	go run ./cmd/upnp-shell -server http://127.0.0.1:9000
//
// Set UPNP_TOKEN (see cmd/upnp-token) when the server requires authentication.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
)

var (
	serverURL = flag.String("server", "http://127.0.0.1:9000", "Base URL of the upnp-control server")
	token     = flag.String("token", os.Getenv("UPNP_TOKEN"), "Bearer token for the API")
)

func main() {
	flag.Parse()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "upnp> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		HistoryFile:     historyFile(),
	})
	if err != nil {
		log.Fatalf("failed to create readline: %v", err)
	}
	defer rl.Close()

	shell := newShell(newAPIClient(*serverURL, *token), rl.Stdout())
	ctx := context.Background()

	// Single commands can be passed as arguments for scripting.
	if flag.NArg() > 0 {
		shell.Execute(ctx, strings.Join(flag.Args(), " "))
		return
	}

	fmt.Fprintf(rl.Stdout(), "Connected to %s. Type 'help' for commands.\n", *serverURL)
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			shell.stopWatch()
			return
		}
		if !shell.Execute(ctx, strings.TrimSpace(line)) {
			return
		}
	}
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".upnp_shell_history")
}
