// Package luaplugin loads plugin types written in Lua. A script returns a
// table describing the type and its hooks:
//
//	return {
//	  name = "Breathe",
//	  category = "protocol",
//	  on_open = function(restored) protoflow.heading("Breathe in", 2) end,
//	  on_tick = function(now) end,
//	  on_close = function() end,
//	}
//
// Every instance runs the script in its own Lua state and talks to the host
// through the global protoflow table.
package luaplugin

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Shopify/go-lua"

	"github.com/louisbranch/protoflow/internal/platform/errors"
	"github.com/louisbranch/protoflow/internal/services/protoflow/plugin"
)

const pluginGlobal = "__plugin"

// Metadata is the descriptive part of a script's returned table. Nil flags
// keep the type defaults.
type Metadata struct {
	Name           string
	DisplayName    string
	Description    string
	Category       plugin.Category
	APIVersion     string
	CanClientOpen  *bool
	CanClientClose *bool
	NotifyOnOpen   *bool
	ShowOnClient   *bool
	PersistUI      *bool
}

// Script is a parsed plugin source.
type Script struct {
	Source   string
	Chunk    string
	Metadata Metadata
}

// Load reads and parses the script at path.
func Load(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, errors.WrapWithMetadata(errors.CodePluginLoad, "read lua plugin",
			map[string]string{"source": path}, err)
	}
	return Parse(filepath.Base(path), string(data))
}

// Parse runs source once in a scratch state to read its metadata. The host
// API raises errors while loading, so scripts must only call it from hooks.
func Parse(chunk, source string) (Script, error) {
	fail := func(message string, cause error) (Script, error) {
		meta := map[string]string{"source": chunk}
		if cause == nil {
			return Script{}, errors.WithMetadata(errors.CodePluginLoad, message, meta)
		}
		return Script{}, errors.WrapWithMetadata(errors.CodePluginLoad, message, meta, cause)
	}

	state, err := newState(chunk, source, &scriptInstance{})
	if err != nil {
		return fail("run lua plugin", err)
	}
	state.Global(pluginGlobal)
	defer state.Pop(1)

	meta := Metadata{
		Name:           stringField(state, "name"),
		DisplayName:    stringField(state, "display_name"),
		Description:    stringField(state, "description"),
		APIVersion:     stringField(state, "api_version"),
		CanClientOpen:  boolField(state, "can_client_open"),
		CanClientClose: boolField(state, "can_client_close"),
		NotifyOnOpen:   boolField(state, "notify_on_open"),
		ShowOnClient:   boolField(state, "show_on_client"),
		PersistUI:      boolField(state, "persist_ui"),
	}
	if meta.Name == "" {
		return fail("lua plugin has no name", nil)
	}
	meta.Category = plugin.CategoryProtocol
	if raw := stringField(state, "category"); raw != "" {
		category, ok := plugin.ParseCategory(raw)
		if !ok {
			return fail(fmt.Sprintf("unknown category %q", raw), nil)
		}
		meta.Category = category
	}
	if err := plugin.CheckAPIVersion(meta.APIVersion); err != nil {
		return fail(fmt.Sprintf("lua plugin %s", meta.Name), err)
	}
	return Script{Source: source, Chunk: chunk, Metadata: meta}, nil
}

// Type builds the plugin registration record for the script.
func (s Script) Type(logger *slog.Logger) plugin.Type {
	if logger == nil {
		logger = slog.Default()
	}
	meta := s.Metadata
	opts := []plugin.Option{
		plugin.WithDisplayName(meta.DisplayName),
		plugin.WithDescription(meta.Description),
		plugin.WithAPIVersion(meta.APIVersion),
	}
	for _, flag := range []struct {
		value *bool
		apply func(bool) plugin.Option
	}{
		{meta.CanClientOpen, plugin.WithClientOpen},
		{meta.CanClientClose, plugin.WithClientClose},
		{meta.NotifyOnOpen, plugin.WithNotifyOnOpen},
		{meta.ShowOnClient, plugin.WithShowOnClient},
		{meta.PersistUI, plugin.WithPersistUI},
	} {
		if flag.value != nil {
			opts = append(opts, flag.apply(*flag.value))
		}
	}
	logger = logger.With("plugin", meta.Name)
	return plugin.NewType(meta.Name, meta.Category, func() any {
		return &scriptInstance{script: s, logger: logger}
	}, opts...)
}

// LoadDir parses every *.lua file in dir, in name order. Scripts that fail
// are reported in the joined error; the others are still returned. A missing
// directory yields no types.
func LoadDir(dir string, logger *slog.Logger) ([]plugin.Type, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		return nil, errors.Wrap(errors.CodePluginLoad, "list lua plugins", err)
	}
	sort.Strings(paths)

	var types []plugin.Type
	var errs []error
	for _, path := range paths {
		script, err := Load(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		types = append(types, script.Type(logger))
	}
	return types, stderrors.Join(errs...)
}

// newState runs source in a fresh state bound to s and keeps the returned
// table in a global.
func newState(chunk, source string, s *scriptInstance) (*lua.State, error) {
	state := lua.NewState()
	lua.OpenLibraries(state)
	s.registerAPI(state)

	if err := lua.LoadBuffer(state, source, "@"+chunk, ""); err != nil {
		return nil, fmt.Errorf("load lua: %w", err)
	}
	if err := state.ProtectedCall(0, 1, 0); err != nil {
		return nil, fmt.Errorf("run lua: %w", err)
	}
	if state.TypeOf(-1) != lua.TypeTable {
		state.Pop(1)
		return nil, fmt.Errorf("plugin script must return a table")
	}
	state.SetGlobal(pluginGlobal)
	return state, nil
}

// stringField reads key from the table on top of the stack.
func stringField(state *lua.State, key string) string {
	state.Field(-1, key)
	defer state.Pop(1)
	if state.TypeOf(-1) != lua.TypeString {
		return ""
	}
	value, _ := state.ToString(-1)
	return strings.TrimSpace(value)
}

func boolField(state *lua.State, key string) *bool {
	state.Field(-1, key)
	defer state.Pop(1)
	if state.TypeOf(-1) != lua.TypeBoolean {
		return nil
	}
	value := state.ToBoolean(-1)
	return &value
}
