package model

import (
	"net/http"
	"time"
)

// CapturedExchange is a recorded request/response pair, kept for inspection and replay
type CapturedExchange struct {
	ID                string      `json:"id"`
	Method            string      `json:"method,omitempty"`
	Path              string      `json:"path,omitempty"`
	RequestHeader     http.Header `json:"request_header,omitempty"`
	RequestBody       []byte      `json:"request_body,omitempty"`
	ReceivedAt        time.Time   `json:"received_at,omitempty"`
	StatusCode        int         `json:"status_code,omitempty"`
	Reason            string      `json:"reason,omitempty"`
	ResponseHeader    http.Header `json:"response_header,omitempty"`
	ResponseBody      []byte      `json:"response_body,omitempty"`
	ResponseTruncated bool        `json:"response_truncated,omitempty"`
	CompletedAt       time.Time   `json:"completed_at,omitempty"`
}

// HasRequest reports whether the request side was captured
func (e CapturedExchange) HasRequest() bool {
	return e.Method != ""
}

// Duration is the time between arrival and completion, zero while either is unknown
func (e CapturedExchange) Duration() time.Duration {
	if e.ReceivedAt.IsZero() || e.CompletedAt.IsZero() {
		return 0
	}
	return e.CompletedAt.Sub(e.ReceivedAt)
}
