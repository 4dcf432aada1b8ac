// Package mcp exposes runtime administration as Model Context Protocol tools.
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/protoflow/internal/services/protoflow/instance"
	"github.com/louisbranch/protoflow/internal/services/protoflow/transport"
)

const serverName = "protoflow"

// Runtime is the subset of the runtime the tools drive.
type Runtime interface {
	ListInstances(ctx context.Context) ([]instance.Summary, error)
	OpenableProtocols(ctx context.Context) ([]transport.Protocol, error)
	OpenProtocol(ctx context.Context, name string) (string, error)
	CloseProtocol(ctx context.Context, instanceID string) error
	RequestSnapshot()
}

// ListInstancesInput has no parameters.
type ListInstancesInput struct{}

// ListInstancesResult lists the instances shown on clients.
type ListInstancesResult struct {
	Instances []instance.Summary `json:"instances"`
}

// ListProtocolsInput has no parameters.
type ListProtocolsInput struct{}

// ListProtocolsResult lists the protocols clients may open.
type ListProtocolsResult struct {
	Protocols []transport.Protocol `json:"protocols"`
}

// OpenProtocolInput names the protocol to open.
type OpenProtocolInput struct {
	Name string `json:"name" jsonschema:"protocol type name or display name"`
}

// OpenProtocolResult carries the new instance ID.
type OpenProtocolResult struct {
	InstanceID string `json:"instance_id"`
}

// CloseProtocolInput names the instance to close.
type CloseProtocolInput struct {
	InstanceID string `json:"instance_id" jsonschema:"ID of the protocol instance to close"`
}

// CloseProtocolResult confirms the close.
type CloseProtocolResult struct {
	Closed bool `json:"closed"`
}

// SnapshotInput has no parameters.
type SnapshotInput struct{}

// SnapshotResult confirms the request.
type SnapshotResult struct {
	Requested bool `json:"requested"`
}

// NewServer registers every tool against rt.
func NewServer(rt Runtime, version string) (*mcpsdk.Server, error) {
	if rt == nil {
		return nil, fmt.Errorf("runtime is required")
	}
	if strings.TrimSpace(version) == "" {
		version = "dev"
	}
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: serverName, Version: version}, nil)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "list_instances",
		Description: "Lists open instances visible to clients",
	}, listInstancesHandler(rt))
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "list_openable_protocols",
		Description: "Lists protocol types that can be opened",
	}, listProtocolsHandler(rt))
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "open_protocol",
		Description: "Opens a new protocol instance",
	}, openProtocolHandler(rt))
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "close_protocol",
		Description: "Closes a protocol instance",
	}, closeProtocolHandler(rt))
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "request_snapshot",
		Description: "Persists every open instance after the next run loop step",
	}, snapshotHandler(rt))
	return server, nil
}

// Handler serves server over streamable HTTP.
func Handler(server *mcpsdk.Server) http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return server }, nil)
}

func listInstancesHandler(rt Runtime) mcpsdk.ToolHandlerFor[ListInstancesInput, ListInstancesResult] {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest, _ ListInstancesInput) (*mcpsdk.CallToolResult, ListInstancesResult, error) {
		list, err := rt.ListInstances(ctx)
		if err != nil {
			return nil, ListInstancesResult{}, fmt.Errorf("list instances: %w", err)
		}
		if list == nil {
			list = []instance.Summary{}
		}
		return nil, ListInstancesResult{Instances: list}, nil
	}
}

func listProtocolsHandler(rt Runtime) mcpsdk.ToolHandlerFor[ListProtocolsInput, ListProtocolsResult] {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest, _ ListProtocolsInput) (*mcpsdk.CallToolResult, ListProtocolsResult, error) {
		protocols, err := rt.OpenableProtocols(ctx)
		if err != nil {
			return nil, ListProtocolsResult{}, fmt.Errorf("list protocols: %w", err)
		}
		if protocols == nil {
			protocols = []transport.Protocol{}
		}
		return nil, ListProtocolsResult{Protocols: protocols}, nil
	}
}

func openProtocolHandler(rt Runtime) mcpsdk.ToolHandlerFor[OpenProtocolInput, OpenProtocolResult] {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest, input OpenProtocolInput) (*mcpsdk.CallToolResult, OpenProtocolResult, error) {
		name := strings.TrimSpace(input.Name)
		if name == "" {
			return nil, OpenProtocolResult{}, fmt.Errorf("name is required")
		}
		instanceID, err := rt.OpenProtocol(ctx, name)
		if err != nil {
			return nil, OpenProtocolResult{}, fmt.Errorf("open protocol: %w", err)
		}
		return nil, OpenProtocolResult{InstanceID: instanceID}, nil
	}
}

func closeProtocolHandler(rt Runtime) mcpsdk.ToolHandlerFor[CloseProtocolInput, CloseProtocolResult] {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest, input CloseProtocolInput) (*mcpsdk.CallToolResult, CloseProtocolResult, error) {
		instanceID := strings.TrimSpace(input.InstanceID)
		if instanceID == "" {
			return nil, CloseProtocolResult{}, fmt.Errorf("instance_id is required")
		}
		if err := rt.CloseProtocol(ctx, instanceID); err != nil {
			return nil, CloseProtocolResult{}, fmt.Errorf("close protocol: %w", err)
		}
		return nil, CloseProtocolResult{Closed: true}, nil
	}
}

func snapshotHandler(rt Runtime) mcpsdk.ToolHandlerFor[SnapshotInput, SnapshotResult] {
	return func(context.Context, *mcpsdk.CallToolRequest, SnapshotInput) (*mcpsdk.CallToolResult, SnapshotResult, error) {
		rt.RequestSnapshot()
		return nil, SnapshotResult{Requested: true}, nil
	}
}
