package httpapi

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"aether.dev/pkg/utils/context"
)

type HealthzOutput struct {
	Body struct {
		Status        string            `json:"status"`
		Events        int               `json:"events" doc:"live stored events"`
		Delivered     uint64            `json:"delivered"`
		Dropped       uint64            `json:"dropped"`
		Subscriptions map[string]uint64 `json:"subscriptions" doc:"dropped count per HTTP subscription"`
	}
}

// RegisterHealthz serves GET /healthz: liveness plus the delivery drop
// counters.
func (x *Operations) RegisterHealthz(api huma.API) {
	name := "Healthz"
	huma.Register(
		api, huma.Operation{
			OperationID: name,
			Summary:     name,
			Path:        "/healthz",
			Method:      http.MethodGet,
			Tags:        []string{"ops"},
			Description: `Liveness probe with dispatcher counters.`,
		}, func(ctx context.T, input *struct{}) (
			output *HealthzOutput, err error,
		) {
			output = &HealthzOutput{}
			output.Body.Status = "ok"
			output.Body.Events, _ = x.Relay.Store.Count(ctx)
			output.Body.Delivered = x.Relay.Dispatcher.Delivered()
			output.Body.Dropped = x.Relay.Dispatcher.Dropped()
			output.Body.Subscriptions = map[string]uint64{}
			x.subs.Range(func(id string, ss *streamSub) bool {
				output.Body.Subscriptions[id] = ss.sub.Dropped.Load()
				return true
			})
			return
		},
	)
}
