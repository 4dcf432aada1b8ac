package luaplugin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louisbranch/protoflow/internal/platform/errors"
	"github.com/louisbranch/protoflow/internal/services/protoflow/audio"
	"github.com/louisbranch/protoflow/internal/services/protoflow/instance"
	"github.com/louisbranch/protoflow/internal/services/protoflow/plugin"
	"github.com/louisbranch/protoflow/internal/services/protoflow/ui"
)

const counterScript = `
local count_id
local clicks = 0

return {
  name = "ClickCounter",
  description = "Counts clicks",
  can_client_close = false,
  persist_ui = false,
  api_version = "^1.0",

  on_open = function(restored)
    protoflow.heading("Clicks", 2)
    count_id = protoflow.paragraph(protoflow.get("total") or "0")
    protoflow.button("Click", function()
      clicks = clicks + 1
      local total = tonumber(protoflow.get("total") or "0") + 1
      protoflow.set("total", tostring(total))
      protoflow.set_text(count_id, tostring(total))
      if clicks == 3 then
        protoflow.notify("Three clicks", "well done")
      end
    end)
    protoflow.checkbox("Done", function(checked)
      if checked then protoflow.close() end
    end)
  end,

  on_tick = function(now)
    if now > 0 then protoflow.set_title("ticked") end
  end,

  on_close = function()
    protoflow.log("closing")
  end,
}
`

type recorder struct {
	notifications []string
	audio         []audio.Command
}

func (r *recorder) AudioCommand(cmd audio.Command, _ string, _ string) {
	r.audio = append(r.audio, cmd)
}

func (r *recorder) PublishInstances([]instance.Summary)            {}
func (r *recorder) PublishElements(string, []ui.Descriptor)        {}
func (r *recorder) PublishProperty(string, string, map[string]any) {}
func (r *recorder) ForgetInstance(string)                          {}

func (r *recorder) Notify(title, body string) {
	r.notifications = append(r.notifications, title+": "+body)
}

func registryWith(t *testing.T, sources ...string) (*instance.Registry, *recorder) {
	t.Helper()
	catalog := plugin.NewCatalog()
	for i, source := range sources {
		script, err := Parse("script.lua", source)
		require.NoError(t, err, "script %d", i)
		require.NoError(t, catalog.Register(script.Type(nil)))
	}
	rec := &recorder{}
	registry, err := instance.NewRegistry(instance.Config{Catalog: catalog, Publisher: rec})
	require.NoError(t, err)
	return registry, rec
}

func TestParseMetadata(t *testing.T) {
	script, err := Parse("counter.lua", counterScript)
	require.NoError(t, err)

	meta := script.Metadata
	assert.Equal(t, "ClickCounter", meta.Name)
	assert.Equal(t, plugin.CategoryProtocol, meta.Category)
	require.NotNil(t, meta.CanClientClose)
	assert.False(t, *meta.CanClientClose)
	assert.Nil(t, meta.CanClientOpen)

	typ := script.Type(nil)
	assert.Equal(t, "Click Counter", typ.DisplayName)
	assert.Equal(t, "Counts clicks", typ.Description)
	assert.True(t, typ.CanClientOpen)
	assert.False(t, typ.CanClientClose)
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"syntax":        `return {`,
		"not a table":   `return 42`,
		"no name":       `return { category = "protocol" }`,
		"bad category":  `return { name = "X", category = "widget" }`,
		"api too new":   `return { name = "X", api_version = ">= 2.0" }`,
		"api at load":   `protoflow.heading("too early") return { name = "X" }`,
		"runtime error": `error("boom")`,
	}
	for name, source := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse("bad.lua", source)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodePluginLoad), "err = %v", err)
		})
	}
}

func TestSystemCategory(t *testing.T) {
	script, err := Parse("sys.lua", `return { name = "LuaSystem", category = "System", show_on_client = false }`)
	require.NoError(t, err)
	typ := script.Type(nil)
	assert.Equal(t, plugin.CategorySystem, typ.Category)
	assert.False(t, typ.ShowOnClient)
}

func TestInstanceLifecycle(t *testing.T) {
	registry, rec := registryWith(t, counterScript)
	inst, err := registry.Open("ClickCounter")
	require.NoError(t, err)

	elements := inst.UI().Elements()
	require.Len(t, elements, 4)
	count := elements[1].(*ui.Paragraph)
	assert.Equal(t, "0", count.Text())

	for range 3 {
		require.NoError(t, registry.Dispatch(inst.ID(), elements[2].ID(), "Click", nil))
	}
	assert.Equal(t, "3", count.Text())
	assert.Equal(t, map[string]string{"total": "3"}, inst.State().(*scriptInstance).Storage)
	assert.Contains(t, rec.notifications, "Three clicks: well done")

	registry.Tick(time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC))
	assert.Equal(t, "ticked", inst.Title())

	checked := map[string]json.RawMessage{"state": json.RawMessage(`true`)}
	require.NoError(t, registry.Dispatch(inst.ID(), elements[3].ID(), "StateChanged", checked))
	assert.False(t, inst.IsOpen())
}

// toggle sends the event pair a client emits for one checkbox click.
func toggle(t *testing.T, registry *instance.Registry, instanceID, elementID string, checked bool) {
	t.Helper()
	follow := "Unchecked"
	if checked {
		follow = "Checked"
	}
	state := map[string]json.RawMessage{"state": json.RawMessage(strconv.FormatBool(checked))}
	require.NoError(t, registry.Dispatch(instanceID, elementID, "StateChanged", state))
	require.NoError(t, registry.Dispatch(instanceID, elementID, follow, nil))
}

func TestCheckboxCallbackRunsOncePerToggle(t *testing.T) {
	const source = `
local calls = 0
return {
  name = "Toggler",
  on_open = function()
    protoflow.checkbox("Done", function(checked)
      calls = calls + 1
      protoflow.set("calls", tostring(calls))
      protoflow.set("checked", tostring(checked))
    end)
  end,
}
`
	registry, _ := registryWith(t, source)
	inst, err := registry.Open("Toggler")
	require.NoError(t, err)
	box := inst.UI().Elements()[0]
	storage := inst.State().(*scriptInstance).Storage

	toggle(t, registry, inst.ID(), box.ID(), true)
	assert.Equal(t, "1", storage["calls"])
	assert.Equal(t, "true", storage["checked"])
	assert.True(t, box.(*ui.Checkbox).Checked())

	toggle(t, registry, inst.ID(), box.ID(), false)
	assert.Equal(t, "2", storage["calls"])
	assert.Equal(t, "false", storage["checked"])
}

func TestStorageSurvivesRestore(t *testing.T) {
	registry, _ := registryWith(t, counterScript)
	inst, err := registry.Prepare("ClickCounter", "counter-1", "")
	require.NoError(t, err)
	inst.State().(*scriptInstance).Storage = map[string]string{"total": "41"}
	require.NoError(t, registry.OpenRestored(inst))

	elements := inst.UI().Elements()
	assert.Equal(t, "41", elements[1].(*ui.Paragraph).Text())
	require.NoError(t, registry.Dispatch(inst.ID(), elements[2].ID(), "Click", nil))
	assert.Equal(t, "42", elements[1].(*ui.Paragraph).Text())
}

func TestRestoredElementsRebind(t *testing.T) {
	const source = `
return {
  name = "Rebinder",
  persist_ui = true,
  on_open = function(restored)
    if not restored then
      protoflow.button("Go", function() protoflow.set("clicked", "fresh") end)
      return
    end
    for _, el in ipairs(protoflow.elements()) do
      if el.kind == "Button" then
        protoflow.on(el.id, function() protoflow.set("clicked", el.text) end)
      end
    end
  end,
}
`
	registry, _ := registryWith(t, source)
	inst, err := registry.Prepare("Rebinder", "rebinder-1", "")
	require.NoError(t, err)
	button := ui.NewButton("Again")
	require.NoError(t, inst.UI().Append(button))
	require.NoError(t, registry.OpenRestored(inst))

	require.NoError(t, registry.Dispatch(inst.ID(), button.ID(), "Click", nil))
	assert.Equal(t, "Again", inst.State().(*scriptInstance).Storage["clicked"])
	assert.Len(t, inst.UI().Elements(), 1)
}

func TestAudioAndCallbackErrors(t *testing.T) {
	const source = `
local clip
return {
  name = "Player",
  on_open = function()
    clip = protoflow.play("https://example.com/a.mp3")
    protoflow.button("Stop", function() protoflow.stop(clip) end)
    protoflow.button("Broken", function() protoflow.set_text("missing", "x") end)
  end,
}
`
	registry, rec := registryWith(t, source)
	inst, err := registry.Open("Player")
	require.NoError(t, err)
	assert.Equal(t, []audio.Command{audio.CommandCreate, audio.CommandPlay}, rec.audio)

	elements := inst.UI().Elements()
	require.NoError(t, registry.Dispatch(inst.ID(), elements[1].ID(), "Click", nil), "lua errors are logged, not returned")
	require.NoError(t, registry.Dispatch(inst.ID(), elements[0].ID(), "Click", nil))
	assert.Equal(t, []audio.Command{audio.CommandCreate, audio.CommandPlay, audio.CommandStop, audio.CommandDestroy}, rec.audio)
	assert.Zero(t, inst.Audio().Len())
}

func TestFailingOnOpenDiscardsInstance(t *testing.T) {
	registry, _ := registryWith(t, `return { name = "Broken", on_open = function() error("nope") end }`)
	_, err := registry.Open("Broken")
	require.Error(t, err)
	assert.Zero(t, registry.Len())
}

func TestOpenFromLua(t *testing.T) {
	const opener = `
return {
  name = "Opener",
  category = "system",
  on_open = function()
    local id, err = protoflow.open("Click Counter")
    protoflow.set("opened", id or err)
  end,
}
`
	registry, _ := registryWith(t, counterScript, opener)
	require.NoError(t, registry.OpenSystems())
	system, err := registry.System("Opener")
	require.NoError(t, err)

	counters := registry.ByType("ClickCounter")
	require.Len(t, counters, 1)
	assert.Equal(t, counters[0].ID(), system.State().(*scriptInstance).Storage["opened"])
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.lua"), []byte(counterScript), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.lua"), []byte(`return 1`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.txt"), []byte(`ignored`), 0o600))

	types, err := LoadDir(dir, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodePluginLoad), "err = %v", err)
	require.Len(t, types, 1)
	assert.Equal(t, "ClickCounter", types[0].Name)

	types, err = LoadDir(filepath.Join(dir, "missing"), nil)
	require.NoError(t, err)
	assert.Empty(t, types)
}
