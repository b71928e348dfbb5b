package model

import (
	"net/http"
)

// HTTPRequest is the wire form of a relayed request sent from the relay to the agent
type HTTPRequest struct {
	// ID correlates the request with its response frame
	ID string `json:"id"`
	// Method is the HTTP method (GET, POST, etc.)
	Method string `json:"method"`
	// URL is the relative path and query
	URL string `json:"url"`
	// Headers are the request headers
	Headers http.Header `json:"headers"`
	// Body is the request body
	Body []byte `json:"body,omitempty"`
}

// HTTPResponse is the wire form of a relay response sent from the agent to the relay
type HTTPResponse struct {
	// ID is the request ID associated with the response
	ID string `json:"id"`
	// StatusCode is the HTTP status code (200, 404, etc.)
	StatusCode int `json:"status_code"`
	// Status is the reason phrase
	Status string `json:"status,omitempty"`
	// Headers are the response headers
	Headers http.Header `json:"headers"`
	// Body is the response body
	Body []byte `json:"body,omitempty"`
}
