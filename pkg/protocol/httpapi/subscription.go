package httpapi

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"aether.dev/pkg/encoders/event"
	"aether.dev/pkg/encoders/filter"
	"aether.dev/pkg/relay"
	"aether.dev/pkg/relay/reason"
	"aether.dev/pkg/utils/context"
	"aether.dev/pkg/utils/log"
)

type CreateSubscriptionInput struct {
	Body struct {
		Filters []*filter.J `json:"filters,omitempty" doc:"disjunction of filters"`
		Filter  *filter.J   `json:"filter,omitempty" doc:"single-filter shorthand"`
	}
}

type CreateSubscriptionOutput struct {
	Body struct {
		SubscriptionID string `json:"subscription_id"`
	}
}

// RegisterCreateSubscription serves POST /v1/subscriptions. Matching events
// queue behind the subscription until an SSE stream attaches; the queue is
// the same bounded drop-oldest outbox every surface gets.
func (x *Operations) RegisterCreateSubscription(api huma.API) {
	name := "CreateSubscription"
	huma.Register(
		api, huma.Operation{
			OperationID: name,
			Summary:     name,
			Path:        BasePath + "/subscriptions",
			Method:      http.MethodPost,
			Tags:        []string{"subscriptions"},
			Description: `Create a subscription from a filter (or a disjunction of filters) and receive its identifier. Attach to /v1/stream to consume matching events.`,
		}, func(ctx context.T, input *CreateSubscriptionInput) (
			output *CreateSubscriptionOutput, err error,
		) {
			var filters []*filter.F
			js := input.Body.Filters
			if input.Body.Filter != nil {
				js = append(js, input.Body.Filter)
			}
			for _, j := range js {
				var f *filter.F
				if f, err = j.Normalize(); err != nil {
					return nil, huma.Error400BadRequest(err.Error())
				}
				filters = append(filters, f)
			}
			if len(filters) == 0 {
				filters = append(filters, filter.New())
			}
			ss := &streamSub{
				id:   uuid.NewString(),
				ch:   make(chan *event.E),
				quit: make(chan struct{}),
			}
			sink := relay.Sink(func(ev *event.E) {
				select {
				case ss.ch <- ev:
				case <-ss.quit:
				}
			})
			ss.sub = x.Relay.Dispatcher.Subscribe(ss.id, filters, sink)
			x.subs.Store(ss.id, ss)
			log.D.F("http subscription %s created", ss.id)
			output = &CreateSubscriptionOutput{}
			output.Body.SubscriptionID = ss.id
			return
		},
	)
}

type DeleteSubscriptionInput struct {
	ID string `path:"id" doc:"subscription identifier"`
}

// RegisterDeleteSubscription serves DELETE /v1/subscriptions/{id}.
func (x *Operations) RegisterDeleteSubscription(api huma.API) {
	name := "DeleteSubscription"
	huma.Register(
		api, huma.Operation{
			OperationID:   name,
			Summary:       name,
			Path:          BasePath + "/subscriptions/{id}",
			Method:        http.MethodDelete,
			Tags:          []string{"subscriptions"},
			DefaultStatus: http.StatusNoContent,
			Description:   `Close a subscription and detach any stream consuming it.`,
		}, func(ctx context.T, input *DeleteSubscriptionInput) (
			output *struct{}, err error,
		) {
			ss, ok := x.subs.LoadAndDelete(input.ID)
			if !ok {
				return nil, huma.Error404NotFound(reason.SubscriptionNotFound)
			}
			close(ss.quit)
			x.Relay.Dispatcher.Unsubscribe(ss.id)
			return
		},
	)
}
