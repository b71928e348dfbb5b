package observer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
	"github.com/haxorport/haxorport-relay-agent/internal/domain/port"
)

// Console prints one line per relayed request and one per response
type Console struct {
	out      io.Writer
	mu       sync.Mutex
	arrivals *arrivals
}

// NewConsole creates a Console writing to out
func NewConsole(out io.Writer) (*Console, error) {
	a, err := newArrivals()
	if err != nil {
		return nil, err
	}
	return &Console{out: out, arrivals: a}, nil
}

func (c *Console) OnRequestReceived(_ context.Context, requestID string, req *model.RelayedRequest) error {
	c.arrivals.start(requestID, req.ArrivedAt)
	return c.printf("--> %s %s [%s]\n", req.Method, req.Path, requestID)
}

func (c *Console) OnResponseSent(_ context.Context, requestID string, resp *model.RelayResponse) error {
	if resp.Body != nil {
		resp.Body.Close()
	}
	if elapsed, ok := c.arrivals.finish(requestID, resp.CompletedAt); ok {
		return c.printf("<-- %d %s [%s] (%s)\n", resp.StatusCode, resp.Reason, requestID, elapsed.Round(time.Millisecond))
	}
	return c.printf("<-- %d %s [%s]\n", resp.StatusCode, resp.Reason, requestID)
}

func (c *Console) printf(format string, args ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, format, args...)
	return err
}

var _ port.LifecycleListener = (*Console)(nil)
