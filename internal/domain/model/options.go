package model

import (
	"net/url"

	"github.com/pkg/errors"
)

// RelayOptions is the mutable part of the pipeline configuration
type RelayOptions struct {
	// TargetURL is the base URL of the local service
	TargetURL string `json:"target_url"`
}

// Validate checks that TargetURL is an absolute http(s) URL
func (o RelayOptions) Validate() error {
	if o.TargetURL == "" {
		return errors.Wrap(ErrConfiguration, "target url is empty")
	}
	u, err := url.Parse(o.TargetURL)
	if err != nil {
		return errors.Wrapf(ErrConfiguration, "invalid target url %q: %v", o.TargetURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Wrapf(ErrConfiguration, "target url %q must be an absolute http(s) url", o.TargetURL)
	}
	return nil
}
