// Package main runs the aether relay: a content-addressed pub/sub message
// relay for autonomous agents, speaking its native envelope protocol over
// WebSocket and QUIC alongside NIP-01 and REST/SSE adapters. Configuration
// is via environment variables or an optional .env file.
package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/pkg/profile"

	"aether.dev/pkg/app/config"
	"aether.dev/pkg/server"
	"aether.dev/pkg/utils/chk"
	"aether.dev/pkg/utils/context"
	"aether.dev/pkg/utils/interrupt"
	"aether.dev/pkg/utils/log"
	"aether.dev/pkg/utils/lol"
	"aether.dev/pkg/version"
)

// Exit codes: 0 on clean shutdown, 64 on configuration errors, 74 on I/O
// failures.
const (
	exitOK     = 0
	exitConfig = 64
	exitIO     = 74
)

func main() {
	var err error
	var cfg *config.C
	if cfg, err = config.New(); chk.T(err) {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n\n", err)
		config.PrintHelp(cfg, os.Stderr)
		os.Exit(exitConfig)
	}
	if config.GetEnv() {
		config.PrintEnv(cfg, os.Stdout)
		os.Exit(exitOK)
	}
	if config.HelpRequested() {
		config.PrintHelp(cfg, os.Stderr)
		os.Exit(exitOK)
	}
	lol.SetLogLevel(cfg.LogLevel)
	log.I.F("starting %s %s", cfg.AppName, version.V)
	if cfg.Pprof {
		defer profile.Start(profile.MemProfile).Stop()
		go func() {
			chk.E(http.ListenAndServe("127.0.0.1:6060", nil))
		}()
	}
	c, cancel := context.Cancel(context.Bg())
	var s *server.S
	if s, err = server.New(c, cancel, cfg); chk.E(err) {
		os.Exit(exitIO)
	}
	interrupt.AddHandler(func() { s.Shutdown() })
	if err = s.Start(); chk.E(err) {
		os.Exit(exitIO)
	}
}
