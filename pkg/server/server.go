// Package server assembles the relay: the store backend, the validator and
// dispatcher, and every enabled gateway on one listener (plus QUIC on its
// own UDP port when TLS material is present).
package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"aether.dev/pkg/app/config"
	"aether.dev/pkg/protocol/httpapi"
	"aether.dev/pkg/protocol/nativeapi"
	"aether.dev/pkg/protocol/nostrapi"
	"aether.dev/pkg/protocol/quicapi"
	"aether.dev/pkg/protocol/session"
	"aether.dev/pkg/relay"
	"aether.dev/pkg/store"
	"aether.dev/pkg/store/badgerdb"
	"aether.dev/pkg/store/memory"
	"aether.dev/pkg/store/sqlite"
	"aether.dev/pkg/utils/apputil"
	"aether.dev/pkg/utils/chk"
	"aether.dev/pkg/utils/context"
	"aether.dev/pkg/utils/log"
)

// S is the running relay process.
type S struct {
	Ctx    context.T
	Cancel context.F
	Cfg    *config.C
	Relay  *relay.R

	router     *chi.Mux
	httpServer *http.Server
	quicServer *quicapi.Server
}

// New builds the relay from configuration: store backend, core, gateways.
func New(c context.T, cancel context.F, cfg *config.C) (s *S, err error) {
	var st store.I
	switch cfg.Store {
	case "", "memory":
		st = memory.New()
	case "sqlite":
		if err = apputil.EnsureDir(cfg.SqlitePath); chk.E(err) {
			return
		}
		if st, err = sqlite.New(cfg.SqlitePath); chk.E(err) {
			return
		}
	case "badger":
		if st, err = badgerdb.New(cfg.DataDir); chk.E(err) {
			return
		}
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
	v := relay.NewValidator(
		cfg.MaxSkew, cfg.PowDifficulty, cfg.MaxEventSize,
		cfg.RateLimitCapacity, cfg.RateLimitPerSec,
	)
	d := relay.NewDispatcher(cfg.OutboxSize)
	r := relay.New(st, v, d)
	s = &S{Ctx: c, Cancel: cancel, Cfg: cfg, Relay: r}

	opts := session.Opts{
		NoiseRequired: cfg.NoiseRequired,
		HelloTimeout:  cfg.HelloTimeout,
	}
	if cfg.HTTPEnable {
		s.router = httpapi.New(c, r)
	} else {
		s.router = chi.NewRouter()
	}
	s.router.Handle("/ws", nativeapi.New(c, r, opts))
	if cfg.NostrEnable {
		s.router.Handle("/nostr", nostrapi.New(c, r))
	}
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		addr := fmt.Sprintf("%s:%d", cfg.Listen, cfg.QUICPort)
		if s.quicServer, err = quicapi.New(
			c, r, addr, cfg.TLSCert, cfg.TLSKey, opts,
		); chk.E(err) {
			return
		}
	}
	return
}

// Addr is the TCP listen address.
func (s *S) Addr() string {
	return fmt.Sprintf("%s:%d", s.Cfg.Listen, s.Cfg.Port)
}

// Start serves until the listener closes. It blocks.
func (s *S) Start() (err error) {
	var listener net.Listener
	if listener, err = net.Listen("tcp", s.Addr()); chk.E(err) {
		return
	}
	s.httpServer = &http.Server{
		Handler:           cors.Default().Handler(s.router),
		Addr:              s.Addr(),
		ReadHeaderTimeout: 7 * time.Second,
		IdleTimeout:       28 * time.Second,
	}
	g, c := errgroup.WithContext(s.Ctx)
	g.Go(func() error {
		s.Relay.GCLoop(c, s.Cfg.Retention, time.Minute)
		return nil
	})
	if s.quicServer != nil {
		g.Go(func() error {
			// accept errors during shutdown are expected
			if e := s.quicServer.Serve(); e != nil && c.Err() == nil {
				return e
			}
			return nil
		})
	}
	g.Go(func() error {
		log.I.F("listening on %s", s.Addr())
		if e := s.httpServer.Serve(listener); !errors.Is(
			e, http.ErrServerClosed,
		) {
			return e
		}
		return nil
	})
	if err = g.Wait(); chk.E(err) {
		return
	}
	return
}

// Shutdown stops the gateways and closes the store.
func (s *S) Shutdown() {
	log.W.Ln("shutting down relay")
	s.Cancel()
	if s.quicServer != nil {
		chk.E(s.quicServer.Close())
	}
	if s.httpServer != nil {
		chk.E(s.httpServer.Shutdown(context.Bg()))
	}
	log.W.Ln("closing event store")
	chk.E(s.Relay.Store.Close())
}
