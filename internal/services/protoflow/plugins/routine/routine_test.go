package routine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louisbranch/protoflow/internal/platform/errors"
	"github.com/louisbranch/protoflow/internal/services/protoflow/instance"
	"github.com/louisbranch/protoflow/internal/services/protoflow/plugin"
	"github.com/louisbranch/protoflow/internal/services/protoflow/schedule"
	"github.com/louisbranch/protoflow/internal/services/protoflow/snapshot"
	"github.com/louisbranch/protoflow/internal/services/protoflow/ui"
)

func TestDefaults(t *testing.T) {
	routines, err := Defaults()
	require.NoError(t, err)
	require.Len(t, routines, 4)

	morning := routines[0]
	assert.Equal(t, "WeekdayMorningProtocol", morning.Name)
	assert.Equal(t, "Morning Protocol", morning.DisplayName)
	assert.Equal(t, 7*time.Hour+20*time.Minute, morning.At)
	assert.Equal(t, schedule.Weekdays, morning.Days)
	assert.Len(t, morning.Items, 7)

	weekendNight := routines[3]
	assert.Equal(t, 23*time.Hour+30*time.Minute, weekendNight.At)
	assert.Equal(t, schedule.Weekend, weekendNight.Days)
}

func TestParseRejectsInvalidRoutines(t *testing.T) {
	tests := map[string]string{
		"bad yaml":   "routines: [",
		"no name":    "routines:\n  - time: \"08:00\"\n    days: all\n    items: [a]\n",
		"bad time":   "routines:\n  - name: R\n    time: \"8am\"\n    days: all\n    items: [a]\n",
		"bad days":   "routines:\n  - name: R\n    time: \"08:00\"\n    days: someday\n    items: [a]\n",
		"blank item": "routines:\n  - name: R\n    time: \"08:00\"\n    days: all\n    items: [\" \"]\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), "test.yaml")
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodePluginLoad), "err = %v", err)
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	write("b.yml", "routines:\n  - name: Stretch\n    time: \"12:00\"\n    days: mon,wed\n    items: [Neck, Back]\n")
	write("a.yaml", "routines:\n  - name: Water\n    time: \"10:15\"\n    days: daily\n    items: [Drink]\n")
	write("notes.txt", "not a manifest")

	routines, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, routines, 2)
	assert.Equal(t, "Water", routines[0].Name)
	assert.Equal(t, schedule.Monday|schedule.Wednesday, routines[1].Days)

	missing, err := LoadDir(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func newRegistry(t *testing.T) *instance.Registry {
	t.Helper()
	routines, err := Defaults()
	require.NoError(t, err)
	catalog := plugin.NewCatalog()
	require.NoError(t, Register(catalog, routines, nil))
	registry, err := instance.NewRegistry(instance.Config{Catalog: catalog})
	require.NoError(t, err)
	return registry
}

func TestRegisterPolicies(t *testing.T) {
	catalog := plugin.NewCatalog()
	routines := []Routine{
		{Name: "Water", At: time.Hour, Days: schedule.All, Items: []string{"Drink"}},
		{Name: "Water", At: 2 * time.Hour, Days: schedule.All, Items: []string{"Again"}},
	}
	require.NoError(t, Register(catalog, routines, nil))
	assert.Equal(t, 2, catalog.Len(), "duplicate routine is skipped")

	system, ok := catalog.Lookup(SystemType)
	require.True(t, ok)
	assert.False(t, system.ShowOnClient)

	water, ok := catalog.Lookup("Water")
	require.True(t, ok)
	assert.False(t, water.CanClientOpen)
	assert.True(t, water.PersistUI)
	assert.Empty(t, catalog.OpenableProtocols())
}

func TestSystemOpensRoutineOncePerDay(t *testing.T) {
	registry := newRegistry(t)
	require.NoError(t, registry.OpenSystems())
	assert.Empty(t, registry.Summaries(), "routine system is hidden from clients")

	monday := time.Date(2024, 1, 8, 7, 25, 0, 0, time.UTC)
	registry.Scheduler().Tick(monday)
	opened := registry.ByType("WeekdayMorningProtocol")
	require.Len(t, opened, 1)
	assert.Equal(t, "Morning Protocol", opened[0].Title())

	registry.Scheduler().Tick(monday.Add(time.Hour))
	assert.Len(t, registry.ByType("WeekdayMorningProtocol"), 1)
	assert.Empty(t, registry.ByType("WeekendMorningProtocol"))

	saturday := time.Date(2024, 1, 13, 9, 1, 0, 0, time.UTC)
	registry.Scheduler().Tick(saturday)
	assert.Len(t, registry.ByType("WeekendMorningProtocol"), 1)
}

func TestSystemRemembersOpenedRoutinesAcrossRestart(t *testing.T) {
	registry := newRegistry(t)
	require.NoError(t, registry.OpenSystems())
	monday := time.Date(2024, 1, 8, 7, 25, 0, 0, time.UTC)
	registry.Scheduler().Tick(monday)
	require.Len(t, registry.ByType("WeekdayMorningProtocol"), 1)

	doc, err := snapshot.NewCodec(registry, nil).Encode()
	require.NoError(t, err)

	restarted := newRegistry(t)
	result, err := snapshot.NewCodec(restarted, nil).Load(doc)
	require.NoError(t, err)
	assert.Zero(t, result.Skipped)
	require.NoError(t, restarted.OpenSystems())

	restarted.Scheduler().Tick(monday.Add(10 * time.Minute))
	assert.Len(t, restarted.ByType("WeekdayMorningProtocol"), 1, "restored checklist is not opened again")

	restarted.Scheduler().Tick(monday.Add(24 * time.Hour))
	assert.Len(t, restarted.ByType("WeekdayMorningProtocol"), 2, "next weekday opens a new checklist")

	system, err := instance.SystemState[*System](restarted, SystemType)
	require.NoError(t, err)
	assert.True(t, system.LastOpened["WeekdayMorningProtocol"].Equal(monday.Add(24*time.Hour)))
}

func TestChecklistCloses(t *testing.T) {
	registry := newRegistry(t)
	inst, err := registry.Open("WeekdayNightProtocol")
	require.NoError(t, err)

	elements := inst.UI().Elements()
	require.Len(t, elements, 6)
	first, ok := elements[0].(*ui.Checkbox)
	require.True(t, ok)
	assert.Equal(t, "Wash teeth", first.Text())

	require.NoError(t, registry.Dispatch(inst.ID(), elements[5].ID(), "Click", nil))
	assert.False(t, inst.IsOpen())
}

func TestRestoredChecklistKeepsItsTree(t *testing.T) {
	registry := newRegistry(t)
	inst, err := registry.Prepare("WeekendNightProtocol", "night-1", "")
	require.NoError(t, err)
	done := ui.NewCheckbox("Wash teeth")
	done.SetChecked(true)
	closeButton := ui.NewButton("Close")
	require.NoError(t, inst.UI().Append(done, closeButton))
	require.NoError(t, registry.OpenRestored(inst))

	require.Len(t, inst.UI().Elements(), 2)
	assert.True(t, done.Checked())

	require.NoError(t, registry.Dispatch(inst.ID(), closeButton.ID(), "Click", nil))
	assert.False(t, inst.IsOpen())
}
