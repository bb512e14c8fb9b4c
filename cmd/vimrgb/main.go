// VimRGB - editor-mode keyboard lighting
//
// vimrgb runs a small daemon that colours keyboard LEDs according to the
// editor's current mode. Editors report mode changes over MQTT (or the
// local HTTP API); the daemon resolves the theme for that mode and writes
// it to the configured LED hardware.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
