// Package httpapi is the REST gateway: event submission, subscription
// management and an SSE delivery stream over huma-registered operations,
// plus a JSON websocket mirror of the native protocol, prometheus metrics
// and a health endpoint.
package httpapi

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/puzpuzpuz/xsync/v3"

	"aether.dev/pkg/encoders/event"
	"aether.dev/pkg/relay"
	"aether.dev/pkg/utils/context"
	"aether.dev/pkg/version"
)

// BasePath prefixes every versioned operation.
const BasePath = "/v1"

// streamSub is one HTTP-created subscription: events flow from the
// dispatcher outbox through ch to whichever SSE stream attaches.
type streamSub struct {
	id   string
	sub  *relay.Sub
	ch   chan *event.E
	quit chan struct{}
}

// Operations carries the huma-registered handlers.
type Operations struct {
	Ctx   context.T
	Relay *relay.R

	subs *xsync.MapOf[string, *streamSub]
}

// New assembles the chi router with the huma API, the websocket mirror,
// metrics and health endpoints, and returns the root handler.
func New(c context.T, r *relay.R) (router *chi.Mux) {
	router = chi.NewRouter()
	ops := &Operations{
		Ctx:   c,
		Relay: r,
		subs:  xsync.NewMapOf[string, *streamSub](),
	}
	config := huma.DefaultConfig("aether", version.V)
	api := humachi.New(router, config)
	huma.AutoRegister(api, ops)
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc(BasePath+"/ws", ops.serveWS)
	return
}
