package observer

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
	"github.com/haxorport/haxorport-relay-agent/internal/domain/port"
)

// MaxCapturedResponseBody caps the response bytes kept per exchange
const MaxCapturedResponseBody = 64 * 1024

// History keeps the most recent exchanges so they can be inspected and replayed
type History struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *model.CapturedExchange]
}

// NewHistory creates a History holding up to size exchanges
func NewHistory(size int) (*History, error) {
	if size <= 0 {
		size = model.DefaultHistorySize
	}
	cache, err := lru.New[string, *model.CapturedExchange](size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create history cache")
	}
	return &History{cache: cache}, nil
}

// OnRequestReceived captures the request, including its full body
func (h *History) OnRequestReceived(_ context.Context, requestID string, req *model.RelayedRequest) error {
	var body []byte
	if req.Body != nil {
		var err error
		if body, err = io.ReadAll(req.Body); err != nil {
			return errors.Wrap(err, "failed to capture request body")
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.entry(requestID)
	e.Method = req.Method
	e.Path = req.Path
	e.RequestHeader = req.Header.Clone()
	e.RequestBody = body
	e.ReceivedAt = req.ArrivedAt
	return nil
}

// OnResponseSent captures the response. Bodies above MaxCapturedResponseBody are truncated.
func (h *History) OnResponseSent(_ context.Context, requestID string, resp *model.RelayResponse) error {
	var body []byte
	var truncated bool
	if resp.Body != nil {
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, MaxCapturedResponseBody+1))
		if err != nil {
			return errors.Wrap(err, "failed to capture response body")
		}
		if len(data) > MaxCapturedResponseBody {
			data, truncated = data[:MaxCapturedResponseBody], true
		}
		body = data
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.entry(requestID)
	e.StatusCode = resp.StatusCode
	e.Reason = resp.Reason
	e.ResponseHeader = resp.Header.Clone()
	e.ResponseBody = body
	e.ResponseTruncated = truncated
	e.CompletedAt = resp.CompletedAt
	return nil
}

// entry returns the exchange for id, creating it when missing.
// Notifications run concurrently, so the response may be seen first. Caller holds h.mu.
func (h *History) entry(id string) *model.CapturedExchange {
	if e, ok := h.cache.Get(id); ok {
		return e
	}
	e := &model.CapturedExchange{ID: id}
	h.cache.Add(id, e)
	return e
}

// List returns copies of the captured exchanges, most recent arrival first
func (h *History) List() []model.CapturedExchange {
	h.mu.Lock()
	defer h.mu.Unlock()

	keys := h.cache.Keys()
	out := make([]model.CapturedExchange, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if e, ok := h.cache.Peek(keys[i]); ok {
			out = append(out, *e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	return out
}

// Get returns a copy of one captured exchange
func (h *History) Get(id string) (model.CapturedExchange, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.cache.Peek(id)
	if !ok {
		return model.CapturedExchange{}, errors.Wrapf(model.ErrNotFound, "request %q", id)
	}
	return *e, nil
}

// Request rebuilds the captured request so it can be issued again, arriving now
func (h *History) Request(id string) (*model.RelayedRequest, error) {
	e, err := h.Get(id)
	if err != nil {
		return nil, err
	}
	if !e.HasRequest() {
		return nil, errors.Wrapf(model.ErrNotFound, "request %q was not captured", id)
	}
	var body io.Reader
	if len(e.RequestBody) > 0 {
		body = bytes.NewReader(e.RequestBody)
	}
	return model.NewRelayedRequest(e.Method, e.Path, e.RequestHeader, body, time.Now()), nil
}

// Len returns the number of captured exchanges
func (h *History) Len() int {
	return h.cache.Len()
}

var _ port.LifecycleListener = (*History)(nil)
