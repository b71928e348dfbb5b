package observer

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
	"github.com/haxorport/haxorport-relay-agent/internal/domain/port"
)

// Fanout forwards every notification to each listener in turn.
// Each listener receives its own clone, so bodies can be consumed independently.
type Fanout struct {
	listeners []port.LifecycleListener
}

// NewFanout creates a Fanout over listeners, skipping nil entries
func NewFanout(listeners ...port.LifecycleListener) *Fanout {
	f := &Fanout{}
	for _, l := range listeners {
		if l != nil {
			f.listeners = append(f.listeners, l)
		}
	}
	return f
}

// OnRequestReceived notifies every listener; their errors are combined
func (f *Fanout) OnRequestReceived(ctx context.Context, requestID string, req *model.RelayedRequest) error {
	var result error
	for _, l := range f.listeners {
		clone, err := req.Clone()
		if err != nil {
			return multierr.Append(result, err)
		}
		result = multierr.Append(result, safeCall(func() error {
			return l.OnRequestReceived(ctx, requestID, clone)
		}))
	}
	return result
}

// OnResponseSent notifies every listener; their errors are combined
func (f *Fanout) OnResponseSent(ctx context.Context, requestID string, resp *model.RelayResponse) error {
	var result error
	for _, l := range f.listeners {
		clone, err := resp.Clone()
		if err != nil {
			return multierr.Append(result, err)
		}
		result = multierr.Append(result, safeCall(func() error {
			return l.OnResponseSent(ctx, requestID, clone)
		}))
	}
	return result
}

// safeCall keeps one panicking listener from starving the rest
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return fn()
}

var _ port.LifecycleListener = (*Fanout)(nil)
