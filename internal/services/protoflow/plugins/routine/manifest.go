// Package routine loads calendar-triggered checklists from YAML manifests
// and registers the System that opens them.
package routine

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/louisbranch/protoflow/internal/platform/errors"
	"github.com/louisbranch/protoflow/internal/services/protoflow/schedule"
)

//go:embed defaults.yaml
var defaultManifest []byte

// Manifest is the YAML document shape.
type Manifest struct {
	Routines []Definition `yaml:"routines"`
}

// Definition declares one routine checklist.
type Definition struct {
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"display_name,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Time        string   `yaml:"time"`
	Days        string   `yaml:"days"`
	Items       []string `yaml:"items"`
}

// Routine is a validated Definition.
type Routine struct {
	Name        string
	DisplayName string
	Description string
	At          time.Duration
	Days        schedule.Days
	Items       []string
}

// Trigger returns the calendar trigger that opens the routine.
func (r Routine) Trigger() schedule.Calendar {
	return schedule.Calendar{At: r.At, Days: r.Days}
}

// Defaults returns the routines shipped with the runtime.
func Defaults() ([]Routine, error) {
	return Parse(defaultManifest, "defaults.yaml")
}

// Parse decodes and validates a manifest. source names it in errors.
func Parse(data []byte, source string) ([]Routine, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, errors.WrapWithMetadata(errors.CodePluginLoad, "parse routine manifest",
			map[string]string{"source": source}, err)
	}
	routines := make([]Routine, 0, len(manifest.Routines))
	for i, def := range manifest.Routines {
		r, err := def.compile()
		if err != nil {
			return nil, errors.WrapWithMetadata(errors.CodePluginLoad, fmt.Sprintf("routine %d", i),
				map[string]string{"source": source, "routine": def.Name}, err)
		}
		routines = append(routines, r)
	}
	return routines, nil
}

func (d Definition) compile() (Routine, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return Routine{}, fmt.Errorf("name is required")
	}
	at, err := schedule.ParseClock(d.Time)
	if err != nil {
		return Routine{}, err
	}
	days, err := schedule.ParseDays(d.Days)
	if err != nil {
		return Routine{}, err
	}
	items := slices.DeleteFunc(slices.Clone(d.Items), func(item string) bool {
		return strings.TrimSpace(item) == ""
	})
	if len(items) == 0 {
		return Routine{}, fmt.Errorf("routine %s has no items", name)
	}
	return Routine{
		Name:        name,
		DisplayName: strings.TrimSpace(d.DisplayName),
		Description: strings.TrimSpace(d.Description),
		At:          at,
		Days:        days,
		Items:       items,
	}, nil
}

// LoadDir reads every *.yaml and *.yml manifest in dir, in name order. A
// missing directory yields no routines.
func LoadDir(dir string) ([]Routine, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.CodePluginLoad, "read routine directory", err)
	}
	var routines []Routine
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapWithMetadata(errors.CodePluginLoad, "read routine manifest",
				map[string]string{"source": path}, err)
		}
		parsed, err := Parse(data, path)
		if err != nil {
			return nil, err
		}
		routines = append(routines, parsed...)
	}
	return routines, nil
}
