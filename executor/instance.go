package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/caffeineduck/gorex/extract"
	"github.com/tetratelabs/wazero"
)

// Instance is a reusable realization of a Module. It keeps the linking setup
// (compiled code, host modules, base module config) and hands out a fresh
// Context for every call.
type Instance struct {
	id      string
	module *Module
	base   wazero.ModuleConfig
	calls  atomic.Uint64
	closed atomic.Bool
}

func (i *Instance) ID() string      { return i.id }
func (i *Instance) Module() *Module { return i.module }
func (i *Instance) Calls() uint64   { return i.calls.Load() }

// NewContext returns a single-use execution context with fresh budgets.
func (i *Instance) NewContext() *Context {
	l := i.module.limits
	return &Context{inst: i, gov: NewGovernor(l.MaxMemoryPages, l.FuelBudget)}
}

// Call runs op in a fresh context and decodes the payload into out.
func (i *Instance) Call(ctx context.Context, op string, req, out any) (Usage, error) {
	if i.closed.Load() {
		return Usage{}, &extract.Error{Kind: extract.KindInstantiationFailure, Detail: "instance closed", InstanceID: i.id}
	}
	i.calls.Add(1)

	res := i.NewContext().Call(ctx, op, req)
	if res.Err != nil {
		return res.Usage, res.Err
	}
	if out != nil {
		if err := json.Unmarshal(res.Payload, out); err != nil {
			return res.Usage, &extract.Error{
				Kind:       extract.KindInternalGuest,
				Detail:     fmt.Sprintf("decode %s payload", op),
				InstanceID: i.id,
				Cause:      err,
			}
		}
	}
	return res.Usage, nil
}

// Extract runs the guest's extract operation.
func (i *Instance) Extract(ctx context.Context, req extract.Request) (*extract.Content, Usage, error) {
	var content extract.Content
	usage, err := i.Call(ctx, OpExtract, req, &content)
	if err != nil {
		return nil, usage, err
	}
	content.Source = extract.SourceSandbox
	if content.URL == "" {
		content.URL = req.URL
	}
	return &content, usage, nil
}

// ExtractWithStats is Extract plus processing statistics. Memory and fuel
// figures come from the host's own accounting.
func (i *Instance) ExtractWithStats(ctx context.Context, req extract.Request) (*extract.Content, extract.Stats, Usage, error) {
	var out struct {
		Content extract.Content `json:"content"`
		Stats   extract.Stats   `json:"stats"`
	}
	usage, err := i.Call(ctx, OpExtractWithStats, req, &out)
	if err != nil {
		return nil, extract.Stats{}, usage, err
	}
	out.Content.Source = extract.SourceSandbox
	if out.Content.URL == "" {
		out.Content.URL = req.URL
	}
	out.Stats.MemoryUsedPages = int64(usage.PeakMemoryPages)
	out.Stats.FuelConsumed = usage.FuelConsumed
	return &out.Content, out.Stats, usage, nil
}

func (i *Instance) ValidateHTML(ctx context.Context, html string) (bool, error) {
	var ok bool
	_, err := i.Call(ctx, OpValidateHTML, extract.Request{HTML: html}, &ok)
	return ok, err
}

func (i *Instance) Health(ctx context.Context) (extract.HealthStatus, error) {
	var status extract.HealthStatus
	_, err := i.Call(ctx, OpHealthCheck, nil, &status)
	return status, err
}

// Check runs health_check and fails unless the guest reports itself healthy.
func (i *Instance) Check(ctx context.Context) error {
	status, err := i.Health(ctx)
	if err != nil {
		return err
	}
	if !status.Healthy() {
		return &extract.Error{Kind: extract.KindInternalGuest, Detail: "guest reported " + status.Status, InstanceID: i.id}
	}
	return nil
}

func (i *Instance) Info(ctx context.Context) (extract.Info, error) {
	var info extract.Info
	_, err := i.Call(ctx, OpGetInfo, nil, &info)
	return info, err
}

func (i *Instance) ResetState(ctx context.Context) (string, error) {
	var msg string
	_, err := i.Call(ctx, OpResetState, nil, &msg)
	return msg, err
}

func (i *Instance) Modes(ctx context.Context) ([]string, error) {
	var modes []string
	_, err := i.Call(ctx, OpGetModes, nil, &modes)
	return modes, err
}

// Close drops the instance's reference to its module.
func (i *Instance) Close(ctx context.Context) error {
	if i.closed.CompareAndSwap(false, true) {
		i.module.release()
	}
	return nil
}
