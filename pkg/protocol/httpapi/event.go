package httpapi

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"aether.dev/pkg/encoders/event"
	"aether.dev/pkg/encoders/hex"
	"aether.dev/pkg/relay/reason"
	"aether.dev/pkg/store"
	"aether.dev/pkg/utils/context"
	"aether.dev/pkg/utils/log"
)

type PublishEventInput struct {
	Body *event.J `doc:"a signed aether event"`
}

type PublishEventOutput struct {
	Status int
	Body   struct {
		EventID string `json:"event_id" doc:"Blake3 id of the event"`
		Status  string `json:"status" enum:"inserted,duplicate,replaced" doc:"storage outcome"`
	}
}

// RegisterPublishEvent serves POST /v1/events: validate, store, fan out.
func (x *Operations) RegisterPublishEvent(api huma.API) {
	name := "PublishEvent"
	huma.Register(
		api, huma.Operation{
			OperationID:   name,
			Summary:       name,
			Path:          BasePath + "/events",
			Method:        http.MethodPost,
			Tags:          []string{"events"},
			DefaultStatus: http.StatusAccepted,
			Description:   `Submit one signed event. Validation failures return a 4xx whose message is the stable reason code.`,
		}, func(ctx context.T, input *PublishEventInput) (
			output *PublishEventOutput, err error,
		) {
			if input.Body == nil {
				return nil, huma.Error400BadRequest(reason.InvalidMessage)
			}
			ev, err := input.Body.ToEvent()
			if err != nil {
				return nil, huma.Error400BadRequest(reason.InvalidEvent)
			}
			res := x.Relay.Publish(ctx, ev)
			if !res.Accepted {
				switch res.Reason {
				case reason.RateLimited:
					return nil, huma.Error429TooManyRequests(res.Reason)
				case reason.Internal:
					return nil, huma.Error500InternalServerError(res.Reason)
				default:
					return nil, huma.Error422UnprocessableEntity(res.Reason)
				}
			}
			output = &PublishEventOutput{Status: http.StatusAccepted}
			output.Body.EventID = hex.Enc(ev.ID)
			switch res.Stored.Status {
			case store.Replaced:
				output.Body.Status = "replaced"
			case store.Duplicate:
				output.Body.Status = "duplicate"
			default:
				output.Body.Status = "inserted"
			}
			log.T.F("http publish %s -> %s", output.Body.EventID,
				output.Body.Status)
			return
		},
	)
}
