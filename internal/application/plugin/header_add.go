package plugin

import (
	"bufio"
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// AddHeaders sets configured headers on every outgoing local request,
// replacing any value the request already carried.
type AddHeaders struct {
	Headers string `setting:"Headers" help:"Headers to set, one 'Name: Value' per line"`

	parsed []headerPair
}

type headerPair struct {
	name  string
	value string
}

// NewAddHeaders creates a new AddHeaders plugin
func NewAddHeaders() *AddHeaders {
	return &AddHeaders{}
}

// Name returns the plugin name
func (p *AddHeaders) Name() string {
	return "AddHeaders"
}

// HelpText describes the plugin
func (p *AddHeaders) HelpText() string {
	return "Adds or replaces request headers before the request reaches the local service"
}

// Configure parses the Headers setting
func (p *AddHeaders) Configure() error {
	parsed, err := parseHeaderLines(p.Headers)
	if err != nil {
		return err
	}
	p.parsed = parsed
	return nil
}

// PreProcessRequest replaces each configured header
func (p *AddHeaders) PreProcessRequest(_ context.Context, req *http.Request) (*http.Request, error) {
	for _, h := range p.parsed {
		deleteHeader(req.Header, h.name)
		req.Header.Add(h.name, h.value)
	}
	return req, nil
}

// PostProcessResponse passes the response through
func (p *AddHeaders) PostProcessResponse(_ context.Context, resp *http.Response) (*http.Response, error) {
	return resp, nil
}

// parseHeaderLines parses "Name: Value" lines. Blank lines are skipped and
// a later line for the same name wins.
func parseHeaderLines(s string) ([]headerPair, error) {
	var pairs []headerPair
	index := map[string]int{}

	scanner := bufio.NewScanner(strings.NewReader(s))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		name, value, ok := strings.Cut(text, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, errors.Errorf("line %d: expected 'Name: Value', got %q", line, text)
		}
		pair := headerPair{name: name, value: strings.TrimSpace(value)}

		key := strings.ToLower(name)
		if i, seen := index[key]; seen {
			pairs[i] = pair
			continue
		}
		index[key] = len(pairs)
		pairs = append(pairs, pair)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read headers")
	}
	return pairs, nil
}
