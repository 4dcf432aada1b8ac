package routine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/louisbranch/protoflow/internal/services/protoflow/instance"
	"github.com/louisbranch/protoflow/internal/services/protoflow/plugin"
	"github.com/louisbranch/protoflow/internal/services/protoflow/ui"
)

// SystemType is the type name of the routine scheduler.
const SystemType = "RoutineSystem"

// System opens each routine's checklist when its calendar trigger fires.
// LastOpened is persisted so a restart on the same day does not open a
// routine twice.
type System struct {
	LastOpened map[string]time.Time

	routines []Routine
	logger   *slog.Logger
}

func (s *System) PersistentFields() []instance.Field {
	return []instance.Field{{Name: "LastOpened", Value: &s.LastOpened}}
}

func (s *System) OnOpen(inst *instance.Instance) error {
	if s.LastOpened == nil {
		s.LastOpened = make(map[string]time.Time)
	}
	for _, r := range s.routines {
		event := inst.Schedule(r.Trigger(), func(now time.Time) {
			s.LastOpened[r.Name] = now
			opened, err := inst.Registry().Open(r.Name)
			if err != nil {
				s.logger.Error("open routine", "routine", r.Name, "error", err)
				return
			}
			s.logger.Info("routine opened", "routine", r.Name, "instance_id", opened.ID())
		})
		event.SetLastFired(s.LastOpened[r.Name])
	}
	return nil
}

// Checklist shows a routine's items as checkboxes and a Close button. Its
// UI is persisted so checked items survive a restart.
type Checklist struct {
	items []string
}

func (c *Checklist) OnOpen(inst *instance.Instance) error {
	tree := inst.UI()
	if inst.Restored() && tree.Len() > 0 {
		for _, el := range tree.Elements() {
			if button, ok := el.(*ui.Button); ok {
				button.OnClick(func() { _ = inst.Close() })
			}
		}
		return nil
	}
	tree.Clear()
	elements := make([]ui.Element, 0, len(c.items)+1)
	for _, item := range c.items {
		elements = append(elements, ui.NewCheckbox(item))
	}
	closeButton := ui.NewButton("Close")
	closeButton.OnClick(func() { _ = inst.Close() })
	return tree.Append(append(elements, closeButton)...)
}

// Types returns the routine System and one checklist Protocol per routine.
func Types(routines []Routine, logger *slog.Logger) []plugin.Type {
	if logger == nil {
		logger = slog.Default()
	}
	types := []plugin.Type{
		plugin.NewType(SystemType, plugin.CategorySystem,
			func() any { return &System{routines: routines, logger: logger} },
			plugin.WithDescription("Opens routine checklists on their schedule"),
			plugin.WithShowOnClient(false),
			plugin.WithClientClose(false),
		),
	}
	for _, r := range routines {
		opts := []plugin.Option{
			plugin.WithClientOpen(false),
			plugin.WithPersistUI(true),
		}
		if r.DisplayName != "" {
			opts = append(opts, plugin.WithDisplayName(r.DisplayName))
		}
		if r.Description != "" {
			opts = append(opts, plugin.WithDescription(r.Description))
		}
		types = append(types, plugin.NewType(r.Name, plugin.CategoryProtocol,
			func() any { return &Checklist{items: r.Items} }, opts...))
	}
	return types
}

// Register adds the routine types to catalog. A routine whose name is taken,
// by the catalog or an earlier routine, is skipped and logged.
func Register(catalog *plugin.Catalog, routines []Routine, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	var kept []Routine
	seen := make(map[string]bool, len(routines))
	for _, r := range routines {
		_, taken := catalog.Lookup(r.Name)
		if taken || seen[r.Name] {
			logger.Warn("routine name already registered", "routine", r.Name)
			continue
		}
		seen[r.Name] = true
		kept = append(kept, r)
	}
	for _, t := range Types(kept, logger) {
		if err := catalog.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Name, err)
		}
	}
	return nil
}
