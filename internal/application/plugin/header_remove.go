package plugin

import (
	"context"
	"net/http"
	"strings"
)

// RemoveHeaders strips configured headers from every outgoing local request
type RemoveHeaders struct {
	Headers string `setting:"Headers" help:"Header names to remove, separated by commas or new lines"`

	names []string
}

// NewRemoveHeaders creates a new RemoveHeaders plugin
func NewRemoveHeaders() *RemoveHeaders {
	return &RemoveHeaders{}
}

// Name returns the plugin name
func (p *RemoveHeaders) Name() string {
	return "RemoveHeaders"
}

// HelpText describes the plugin
func (p *RemoveHeaders) HelpText() string {
	return "Removes request headers before the request reaches the local service"
}

// Configure parses the Headers setting
func (p *RemoveHeaders) Configure() error {
	p.names = splitHeaderNames(p.Headers)
	return nil
}

// PreProcessRequest removes each configured header if present
func (p *RemoveHeaders) PreProcessRequest(_ context.Context, req *http.Request) (*http.Request, error) {
	for _, name := range p.names {
		deleteHeader(req.Header, name)
	}
	return req, nil
}

// PostProcessResponse passes the response through
func (p *RemoveHeaders) PostProcessResponse(_ context.Context, resp *http.Response) (*http.Response, error) {
	return resp, nil
}

func splitHeaderNames(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			names = append(names, f)
		}
	}
	return names
}
