// Package instance owns live plugin instances: identity, the System
// singleton rule, the open and close lifecycle, and the fan-out of UI
// changes to a Publisher.
package instance

import (
	"time"

	"github.com/louisbranch/protoflow/internal/services/protoflow/audio"
	"github.com/louisbranch/protoflow/internal/services/protoflow/plugin"
	"github.com/louisbranch/protoflow/internal/services/protoflow/schedule"
	"github.com/louisbranch/protoflow/internal/services/protoflow/ui"
)

// Opener runs after an instance joins the live set.
type Opener interface {
	OnOpen(inst *Instance) error
}

// Closer runs before an instance leaves the live set.
type Closer interface {
	OnClose(inst *Instance)
}

// Ticker runs once per run-loop tick.
type Ticker interface {
	OnTick(inst *Instance, now time.Time)
}

// Deserializer runs after persistent fields were restored, before OnOpen.
type Deserializer interface {
	OnDeserialize(inst *Instance)
}

// Persistent lists the fields saved in snapshots.
type Persistent interface {
	PersistentFields() []Field
}

// Field names one persistent value. Value must be a non-nil pointer.
type Field struct {
	Name  string
	Value any
}

// Summary is the client-facing description of a live instance.
type Summary struct {
	InstanceID     string `json:"InstanceID"`
	PluginType     string `json:"PluginType"`
	Name           string `json:"Name"`
	Description    string `json:"Description"`
	Title          string `json:"Title"`
	CanClientClose bool   `json:"CanClientClose"`
}

// Instance is one live (or restoring) plugin instance. Methods must be
// called from the runtime run loop.
type Instance struct {
	id       string
	typ      plugin.Type
	title    string
	state    any
	tree     *ui.Tree
	audio    *audio.Set
	registry *Registry
	open     bool
	restored bool
}

func (i *Instance) ID() string                { return i.id }
func (i *Instance) Type() plugin.Type         { return i.typ }
func (i *Instance) TypeName() string          { return i.typ.Name }
func (i *Instance) Category() plugin.Category { return i.typ.Category }
func (i *Instance) Title() string             { return i.title }
func (i *Instance) UI() *ui.Tree              { return i.tree }
func (i *Instance) Audio() *audio.Set         { return i.audio }
func (i *Instance) State() any                { return i.state }
func (i *Instance) Registry() *Registry       { return i.registry }

// IsOpen reports whether the instance is in the live set.
func (i *Instance) IsOpen() bool { return i.open }

// Restored reports whether the instance was rebuilt from a snapshot.
func (i *Instance) Restored() bool { return i.restored }

// SetTitle renames the instance for clients.
func (i *Instance) SetTitle(title string) {
	i.title = title
	if i.open {
		i.registry.markDirty()
	}
}

// Schedule registers a time event removed when the instance closes.
func (i *Instance) Schedule(trigger schedule.Trigger, fn func(now time.Time)) *schedule.Event {
	return i.registry.scheduler.Register(i.id, trigger, fn)
}

// OnLifecycle registers a lifecycle hook removed when the instance closes.
func (i *Instance) OnLifecycle(kind schedule.Lifecycle, typeName string, fn func(schedule.LifecycleEvent)) *schedule.Event {
	return i.registry.scheduler.OnLifecycle(i.id, kind, typeName, fn)
}

// Notify shows a notification on every connected client.
func (i *Instance) Notify(title, body string) {
	i.registry.publisher.Notify(title, body)
}

// Close closes the instance through its registry.
func (i *Instance) Close() error {
	return i.registry.Close(i)
}

// Summary returns the client-facing description.
func (i *Instance) Summary() Summary {
	return Summary{
		InstanceID:     i.id,
		PluginType:     i.typ.Category.String(),
		Name:           i.typ.DisplayName,
		Description:    i.typ.Description,
		Title:          i.title,
		CanClientClose: i.typ.CanClientClose,
	}
}

type treeObserver struct {
	inst *Instance
}

func (o treeObserver) StructureChanged(t *ui.Tree) {
	if !o.inst.open {
		return
	}
	r := o.inst.registry
	r.publisher.PublishElements(o.inst.id, t.Descriptors())
	r.markDirty()
}

func (o treeObserver) PropertyChanged(_ *ui.Tree, el ui.Element, name string, value any) {
	if !o.inst.open {
		return
	}
	r := o.inst.registry
	r.publisher.PublishProperty(o.inst.id, el.ID(), map[string]any{name: value})
	r.markDirty()
}

type audioForwarder struct {
	registry *Registry
}

func (f audioForwarder) AudioCommand(cmd audio.Command, audioID string, url string) {
	f.registry.publisher.AudioCommand(cmd, audioID, url)
}
