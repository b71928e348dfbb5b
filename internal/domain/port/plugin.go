package port

import (
	"context"
	"net/http"
)

// Plugin mutates the outbound local request and the response coming back from it.
//
// Settings are declared as exported string fields tagged `setting:"Name"`, with
// optional `help:"..."` and `default:"..."` tags. Both hooks must return the
// (possibly mutated) message; returning nil aborts the request.
type Plugin interface {
	// Name is the stable type name of the plugin
	Name() string

	// HelpText describes what the plugin does
	HelpText() string

	// PreProcessRequest runs before the request reaches the local service
	PreProcessRequest(ctx context.Context, req *http.Request) (*http.Request, error)

	// PostProcessResponse runs after the local service answered
	PostProcessResponse(ctx context.Context, resp *http.Response) (*http.Response, error)
}

// Initializer is implemented by plugins needing one-time setup when first enabled
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Configurable is implemented by plugins that derive state from their settings.
// Configure is called after setting values were applied.
type Configurable interface {
	Configure() error
}
