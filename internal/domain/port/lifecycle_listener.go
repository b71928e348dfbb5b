package port

import (
	"context"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
)

// LifecycleListener is notified of request-received and response-sent events.
// Notifications are best effort: the pipeline never waits for or retries them,
// and the request/response passed in are clones owned by the listener.
type LifecycleListener interface {
	OnRequestReceived(ctx context.Context, requestID string, req *model.RelayedRequest) error
	OnResponseSent(ctx context.Context, requestID string, resp *model.RelayResponse) error
}
