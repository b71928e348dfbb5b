package pipeline

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
	"github.com/haxorport/haxorport-relay-agent/internal/domain/port"
)

// runPreProcess runs every plugin's request hook strictly in order.
// The first failure aborts the chain.
func runPreProcess(ctx context.Context, plugins []port.Plugin, req *http.Request, logger port.Logger) (*http.Request, error) {
	for _, p := range plugins {
		out, err := callPre(ctx, p, req)
		if err == nil && out == nil {
			err = model.ErrContractViolation
		}
		if err != nil {
			perr := &model.PluginError{Plugin: p.Name(), Phase: model.PhasePreProcess, Err: err}
			logger.WithField("plugin", p.Name()).WithField("phase", model.PhasePreProcess).
				Error("Plugin failed, aborting request: %v", err)
			return nil, perr
		}
		req = out
	}
	return req, nil
}

// runPostProcess runs every plugin's response hook strictly in order.
func runPostProcess(ctx context.Context, plugins []port.Plugin, resp *http.Response, logger port.Logger) (*http.Response, error) {
	for _, p := range plugins {
		out, err := callPost(ctx, p, resp)
		if err == nil && out == nil {
			err = model.ErrContractViolation
		}
		if err != nil {
			perr := &model.PluginError{Plugin: p.Name(), Phase: model.PhasePostProcess, Err: err}
			logger.WithField("plugin", p.Name()).WithField("phase", model.PhasePostProcess).
				Error("Plugin failed, aborting request: %v", err)
			return nil, perr
		}
		resp = out
	}
	return resp, nil
}

func callPre(ctx context.Context, p port.Plugin, req *http.Request) (out *http.Request, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, errors.Errorf("panic: %v", r)
		}
	}()
	return p.PreProcessRequest(ctx, req)
}

func callPost(ctx context.Context, p port.Plugin, resp *http.Response) (out *http.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, errors.Errorf("panic: %v", r)
		}
	}()
	return p.PostProcessResponse(ctx, resp)
}
