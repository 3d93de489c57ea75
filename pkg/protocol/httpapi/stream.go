package httpapi

import (
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"aether.dev/pkg/encoders/event"
	"aether.dev/pkg/utils/chk"
	"aether.dev/pkg/utils/context"
	"aether.dev/pkg/utils/log"
)

// HeartbeatInterval paces keepalive messages so proxies do not reap idle
// streams.
const HeartbeatInterval = 15 * time.Second

// StreamEvent is the SSE message carrying one matched event.
type StreamEvent struct {
	SubID string   `json:"sub_id"`
	Event *event.J `json:"event"`
}

// Heartbeat is the SSE keepalive message.
type Heartbeat struct {
	At int64 `json:"at" doc:"unix seconds"`
}

type StreamInput struct {
	SubscriptionID string `query:"subscription_id" required:"true" doc:"identifier from /v1/subscriptions"`
	Accept         string `header:"Accept" default:"text/event-stream"`
}

// RegisterStream serves GET /v1/stream: the SSE delivery channel for one
// subscription. Drop-oldest backpressure applies upstream in the outbox;
// this handler only moves what survives.
func (x *Operations) RegisterStream(api huma.API) {
	name := "Stream"
	sse.Register(
		api, huma.Operation{
			OperationID: name,
			Summary:     name,
			Path:        BasePath + "/stream",
			Method:      http.MethodGet,
			Tags:        []string{"subscriptions"},
			Description: `Consume a subscription as a Server-Sent Events stream. Events arrive in delivery order; a heartbeat is sent every 15 seconds.`,
		},
		map[string]any{
			"event":     &StreamEvent{},
			"heartbeat": &Heartbeat{},
		},
		func(ctx context.T, input *StreamInput, send sse.Sender) {
			ss, ok := x.subs.Load(input.SubscriptionID)
			if !ok {
				return
			}
			log.D.F("stream attached to subscription %s", ss.id)
			tick := time.NewTicker(HeartbeatInterval)
			defer tick.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ss.quit:
					return
				case ev := <-ss.ch:
					if chk.E(send.Data(&StreamEvent{
						SubID: ss.id, Event: ev.ToJ(),
					})) {
						return
					}
				case <-tick.C:
					if chk.E(send.Data(&Heartbeat{
						At: time.Now().Unix(),
					})) {
						return
					}
				}
			}
		},
	)
}
