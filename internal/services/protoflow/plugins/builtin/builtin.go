// Package builtin registers the plugins compiled into the runtime.
package builtin

import (
	"github.com/louisbranch/protoflow/internal/services/protoflow/plugin"
)

const (
	CaptureSystemType   = "CaptureSystem"
	CaptureProtocolType = "CaptureProtocol"
	FocusProtocolType   = "FocusProtocol"
)

// Types returns the built-in plugin types.
func Types() []plugin.Type {
	return []plugin.Type{
		plugin.NewType(CaptureSystemType, plugin.CategorySystem,
			func() any { return &CaptureSystem{} },
			plugin.WithDescription("A system for turning ideas into stuff"),
			plugin.WithClientClose(false),
		),
		plugin.NewType(CaptureProtocolType, plugin.CategoryProtocol,
			func() any { return &CaptureProtocol{} },
			plugin.WithDescription("Capture a thought into the capture list"),
			plugin.WithNotifyOnOpen(false),
		),
		plugin.NewType(FocusProtocolType, plugin.CategoryProtocol,
			func() any { return &FocusProtocol{} },
			plugin.WithDescription("A protocol for focusing on stuff that matters"),
			plugin.WithClientClose(false),
		),
	}
}

// Register adds every built-in type to catalog.
func Register(catalog *plugin.Catalog) error {
	for _, t := range Types() {
		if err := catalog.Register(t); err != nil {
			return err
		}
	}
	return nil
}
