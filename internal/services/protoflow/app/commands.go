package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/louisbranch/protoflow/internal/platform/errors"
	"github.com/louisbranch/protoflow/internal/services/protoflow/instance"
	"github.com/louisbranch/protoflow/internal/services/protoflow/plugin"
	"github.com/louisbranch/protoflow/internal/services/protoflow/transport"
	"github.com/louisbranch/protoflow/internal/services/protoflow/ui"
)

var _ transport.Commands = (*Runtime)(nil)

// Summaries delivers the client summary list from the run loop.
func (r *Runtime) Summaries(ctx context.Context, deliver func([]instance.Summary)) error {
	return r.Do(ctx, func() {
		deliver(r.registry.Summaries())
	})
}

// ListInstances returns the client summary list.
func (r *Runtime) ListInstances(ctx context.Context) ([]instance.Summary, error) {
	var list []instance.Summary
	err := r.Summaries(ctx, func(summaries []instance.Summary) { list = summaries })
	return list, err
}

// Elements delivers the element list of instanceID from the run loop.
func (r *Runtime) Elements(ctx context.Context, instanceID string, deliver func([]ui.Descriptor)) error {
	var lookupErr error
	if err := r.Do(ctx, func() {
		inst, err := r.registry.Get(instanceID)
		if err != nil {
			lookupErr = err
			return
		}
		deliver(inst.UI().Descriptors())
	}); err != nil {
		return err
	}
	return lookupErr
}

// DispatchEvent routes a client UI event to its element.
func (r *Runtime) DispatchEvent(ctx context.Context, instanceID, elementID, event string, args map[string]json.RawMessage) error {
	var dispatchErr error
	if err := r.Do(ctx, func() {
		dispatchErr = r.registry.Dispatch(instanceID, elementID, event, args)
	}); err != nil {
		return err
	}
	return dispatchErr
}

// OpenableProtocols lists Protocol types clients may open.
func (r *Runtime) OpenableProtocols(context.Context) ([]transport.Protocol, error) {
	types := r.registry.Catalog().OpenableProtocols()
	out := make([]transport.Protocol, 0, len(types))
	for _, t := range types {
		out = append(out, transport.Protocol{TypeName: t.Name, Name: t.DisplayName})
	}
	return out, nil
}

// OpenProtocol opens a client-openable Protocol by type or display name.
func (r *Runtime) OpenProtocol(ctx context.Context, name string) (string, error) {
	typ, ok := r.registry.Catalog().Lookup(name)
	if !ok {
		typ, ok = r.registry.Catalog().LookupDisplayName(name)
	}
	if !ok {
		return "", errors.WithMetadata(errors.CodeLookup, fmt.Sprintf("unknown plugin type %q", name), map[string]string{"type": name})
	}
	if typ.Category != plugin.CategoryProtocol || !typ.CanClientOpen {
		return "", errors.WithMetadata(errors.CodeInvariantViolation, fmt.Sprintf("%s cannot be opened by clients", typ.Name), map[string]string{"type": typ.Name})
	}

	var instanceID string
	var openErr error
	if err := r.Do(ctx, func() {
		inst, err := r.registry.Open(typ.Name)
		if err != nil {
			openErr = err
			return
		}
		instanceID = inst.ID()
	}); err != nil {
		return "", err
	}
	return instanceID, openErr
}

// CloseProtocol closes a client-closable Protocol instance.
func (r *Runtime) CloseProtocol(ctx context.Context, instanceID string) error {
	var closeErr error
	if err := r.Do(ctx, func() {
		inst, err := r.registry.Get(instanceID)
		if err != nil {
			closeErr = err
			return
		}
		if inst.Category() == plugin.CategoryProtocol && !inst.Type().CanClientClose {
			closeErr = errors.WithMetadata(errors.CodeInvariantViolation, fmt.Sprintf("%s cannot be closed by clients", inst.TypeName()),
				map[string]string{"instance_id": instanceID})
			return
		}
		closeErr = r.registry.Close(inst)
	}); err != nil {
		return err
	}
	return closeErr
}
