// Package interrupt runs registered handlers when the process receives an
// interrupt or termination signal.
package interrupt

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"aether.dev/pkg/utils/log"
)

var (
	mx       sync.Mutex
	handlers []func()
	started  bool
)

// AddHandler registers fn to run on SIGINT or SIGTERM. Handlers run in
// registration order, once.
func AddHandler(fn func()) {
	mx.Lock()
	defer mx.Unlock()
	handlers = append(handlers, fn)
	if started {
		return
	}
	started = true
	go listen()
}

func listen() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.I.F("received signal %v, shutting down", sig)
	mx.Lock()
	hs := make([]func(), len(handlers))
	copy(hs, handlers)
	mx.Unlock()
	for _, fn := range hs {
		fn()
	}
}
