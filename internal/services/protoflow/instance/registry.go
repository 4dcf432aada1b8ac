package instance

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/louisbranch/protoflow/internal/platform/errors"
	"github.com/louisbranch/protoflow/internal/platform/id"
	"github.com/louisbranch/protoflow/internal/services/protoflow/audio"
	"github.com/louisbranch/protoflow/internal/services/protoflow/plugin"
	"github.com/louisbranch/protoflow/internal/services/protoflow/schedule"
	"github.com/louisbranch/protoflow/internal/services/protoflow/ui"
)

// Publisher delivers registry output to connected clients.
type Publisher interface {
	audio.Sink
	// PublishInstances sends the summary list to every session.
	PublishInstances(list []Summary)
	// PublishElements sends the full element list to sessions viewing instanceID.
	PublishElements(instanceID string, elements []ui.Descriptor)
	// PublishProperty sends one property delta to sessions viewing instanceID.
	PublishProperty(instanceID, elementID string, property map[string]any)
	// Notify shows a notification on every session.
	Notify(title, body string)
	// ForgetInstance drops every session's viewing reference to instanceID.
	ForgetInstance(instanceID string)
}

// Config wires a Registry.
type Config struct {
	Catalog   *plugin.Catalog
	Scheduler *schedule.Scheduler
	Publisher Publisher
	Logger    *slog.Logger
	Clock     func() time.Time
	NewID     func() string
}

// Registry is the live instance set. It is owned by the runtime run loop and
// is not safe for concurrent use.
type Registry struct {
	catalog   *plugin.Catalog
	scheduler *schedule.Scheduler
	publisher Publisher
	logger    *slog.Logger
	clock     func() time.Time
	newID     func() string

	instances []*Instance
	byID      map[string]*Instance
	dirty     bool
	changed   bool
}

// NewRegistry validates cfg and returns an empty registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("plugin catalog is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		catalog:   cfg.Catalog,
		scheduler: cfg.Scheduler,
		logger:    logger,
		clock:     cfg.Clock,
		newID:     cfg.NewID,
		byID:      make(map[string]*Instance),
	}
	if r.scheduler == nil {
		r.scheduler = schedule.New(logger)
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	if r.newID == nil {
		r.newID = id.MustNewID
	}
	r.SetPublisher(cfg.Publisher)
	return r, nil
}

// SetPublisher replaces the client publisher. Nil drops output.
func (r *Registry) SetPublisher(p Publisher) {
	if p == nil {
		p = nopPublisher{}
	}
	r.publisher = p
}

// Catalog returns the plugin catalog.
func (r *Registry) Catalog() *plugin.Catalog { return r.catalog }

// Scheduler returns the scheduler shared by all instances.
func (r *Registry) Scheduler() *schedule.Scheduler { return r.scheduler }

// Open opens a new instance of typeName. For a System type that already has
// a live instance the existing one is returned.
func (r *Registry) Open(typeName string) (*Instance, error) {
	typ, ok := r.catalog.Lookup(typeName)
	if !ok {
		return nil, errors.WithMetadata(errors.CodeLookup, fmt.Sprintf("unknown plugin type %q", typeName), map[string]string{"type": typeName})
	}
	return r.openType(typ)
}

// OpenByName opens a type by display name, falling back to the type name.
func (r *Registry) OpenByName(name string) (*Instance, error) {
	if typ, ok := r.catalog.LookupDisplayName(name); ok {
		return r.openType(typ)
	}
	return r.Open(name)
}

// OpenSystems opens every System type without a live instance.
func (r *Registry) OpenSystems() error {
	var errs []error
	for _, typ := range r.catalog.Systems() {
		if len(r.ByType(typ.Name)) > 0 {
			continue
		}
		if _, err := r.openType(typ); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (r *Registry) openType(typ plugin.Type) (*Instance, error) {
	if typ.Category == plugin.CategorySystem {
		if existing := r.ByType(typ.Name); len(existing) > 0 {
			r.logger.Warn("system already open", "type", typ.Name, "instance_id", existing[0].id)
			return existing[0], nil
		}
	}
	inst, err := r.build(typ, "", "")
	if err != nil {
		return nil, err
	}
	if err := r.activate(inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// Prepare builds an instance of typeName that is not yet live, carrying a
// saved identity and title. Use OpenRestored to make it live.
func (r *Registry) Prepare(typeName, instanceID, title string) (*Instance, error) {
	typ, ok := r.catalog.Lookup(typeName)
	if !ok {
		return nil, errors.WithMetadata(errors.CodeLookup, fmt.Sprintf("unknown plugin type %q", typeName), map[string]string{"type": typeName})
	}
	inst, err := r.build(typ, instanceID, title)
	if err != nil {
		return nil, err
	}
	inst.restored = true
	return inst, nil
}

// OpenRestored makes a prepared instance live. Its deserialize hook runs
// before its open hook.
func (r *Registry) OpenRestored(inst *Instance) error {
	if inst == nil || inst.registry != r || inst.open {
		return errors.New(errors.CodeInvalidArgument, "instance was not prepared by this registry")
	}
	if _, taken := r.byID[inst.id]; taken {
		return errors.WithMetadata(errors.CodeInvariantViolation, fmt.Sprintf("instance id %s already live", inst.id), map[string]string{"instance_id": inst.id})
	}
	if inst.typ.Category == plugin.CategorySystem && len(r.ByType(inst.typ.Name)) > 0 {
		return errors.WithMetadata(errors.CodeInvariantViolation, fmt.Sprintf("system %s already open", inst.typ.Name), map[string]string{"type": inst.typ.Name})
	}
	return r.activate(inst)
}

func (r *Registry) build(typ plugin.Type, instanceID, title string) (*Instance, error) {
	if instanceID == "" {
		instanceID = r.newID()
	}
	inst := &Instance{
		id:       instanceID,
		typ:      typ,
		title:    title,
		registry: r,
	}
	if err := r.callHook(inst, "new", func() error {
		inst.state = typ.New()
		return nil
	}); err != nil {
		return nil, err
	}
	inst.tree = ui.NewTree(r.newID)
	inst.tree.SetObserver(treeObserver{inst: inst})
	inst.audio = audio.NewSet(audioForwarder{registry: r}, r.newID)
	return inst, nil
}

func (r *Registry) activate(inst *Instance) error {
	typ := inst.typ
	if inst.title == "" {
		inst.title = typ.DisplayName
	}
	r.instances = append(r.instances, inst)
	r.byID[inst.id] = inst
	inst.open = true

	if typ.Category == plugin.CategoryProtocol && typ.NotifyOnOpen {
		r.publisher.Notify("New "+typ.DisplayName, "A new "+typ.DisplayName+" instance has been opened.")
	}

	if d, ok := inst.state.(Deserializer); ok && inst.restored {
		if err := r.callHook(inst, "deserialize", func() error {
			d.OnDeserialize(inst)
			return nil
		}); err != nil {
			r.logger.Warn("deserialize hook failed", "type", typ.Name, "instance_id", inst.id, "error", err)
		}
	}
	if o, ok := inst.state.(Opener); ok {
		if err := r.callHook(inst, "open", func() error { return o.OnOpen(inst) }); err != nil {
			r.logger.Warn("open hook failed", "type", typ.Name, "instance_id", inst.id, "error", err)
			if inst.open {
				r.discard(inst)
			}
			return err
		}
	}
	if !inst.open {
		// Closed itself while opening.
		return nil
	}

	r.scheduler.Emit(schedule.LifecycleEvent{Kind: schedule.Opened, InstanceID: inst.id, TypeName: typ.Name, At: r.clock()})
	r.markDirty()
	r.changed = true
	r.logger.Info("instance opened", "type", typ.Name, "instance_id", inst.id, "restored", inst.restored)
	return nil
}

// Close closes a Protocol instance. Closing a System is refused with an
// invariant violation.
func (r *Registry) Close(inst *Instance) error {
	if inst == nil || !inst.open || r.byID[inst.id] != inst {
		return errors.New(errors.CodeLookup, "instance is not open")
	}
	if inst.typ.Category == plugin.CategorySystem {
		r.logger.Warn("refusing to close system", "type", inst.typ.Name, "instance_id", inst.id)
		return errors.WithMetadata(errors.CodeInvariantViolation, fmt.Sprintf("system %s cannot be closed", inst.typ.Name), map[string]string{"instance_id": inst.id})
	}

	inst.audio.ReleaseAll()
	if c, ok := inst.state.(Closer); ok {
		if err := r.callHook(inst, "close", func() error {
			c.OnClose(inst)
			return nil
		}); err != nil {
			r.logger.Warn("close hook failed", "type", inst.typ.Name, "instance_id", inst.id, "error", err)
		}
	}
	r.discard(inst)
	r.scheduler.Emit(schedule.LifecycleEvent{Kind: schedule.Closed, InstanceID: inst.id, TypeName: inst.typ.Name, At: r.clock()})
	r.publisher.ForgetInstance(inst.id)
	r.markDirty()
	r.changed = true
	r.logger.Info("instance closed", "type", inst.typ.Name, "instance_id", inst.id)
	return nil
}

// CloseID closes the instance with the given ID.
func (r *Registry) CloseID(instanceID string) error {
	inst, err := r.Get(instanceID)
	if err != nil {
		return err
	}
	return r.Close(inst)
}

func (r *Registry) discard(inst *Instance) {
	inst.audio.ReleaseAll()
	r.scheduler.UnregisterOwner(inst.id)
	r.instances = slices.DeleteFunc(r.instances, func(candidate *Instance) bool { return candidate == inst })
	delete(r.byID, inst.id)
	inst.open = false
}

// Get returns the live instance with the given ID.
func (r *Registry) Get(instanceID string) (*Instance, error) {
	inst, ok := r.byID[instanceID]
	if !ok {
		return nil, errors.WithMetadata(errors.CodeLookup, fmt.Sprintf("instance %s not found", instanceID), map[string]string{"instance_id": instanceID})
	}
	return inst, nil
}

// ByType returns the live instances of typeName in open order.
func (r *Registry) ByType(typeName string) []*Instance {
	var out []*Instance
	for _, inst := range r.instances {
		if inst.typ.Name == typeName {
			out = append(out, inst)
		}
	}
	return out
}

// System returns the live instance of a System type.
func (r *Registry) System(typeName string) (*Instance, error) {
	typ, ok := r.catalog.Lookup(typeName)
	if !ok || typ.Category != plugin.CategorySystem {
		return nil, errors.WithMetadata(errors.CodeLookup, fmt.Sprintf("%s is not a system type", typeName), map[string]string{"type": typeName})
	}
	live := r.ByType(typeName)
	if len(live) == 0 {
		return nil, errors.WithMetadata(errors.CodeInitOrder, "System is not initialized yet", map[string]string{"type": typeName})
	}
	return live[0], nil
}

// SystemState returns the plugin state of a System instance as T.
func SystemState[T any](r *Registry, typeName string) (T, error) {
	var zero T
	inst, err := r.System(typeName)
	if err != nil {
		return zero, err
	}
	state, ok := inst.state.(T)
	if !ok {
		return zero, errors.New(errors.CodeLookup, fmt.Sprintf("system %s state is %T", typeName, inst.state))
	}
	return state, nil
}

// Instances returns the live instances in open order.
func (r *Registry) Instances() []*Instance {
	return slices.Clone(r.instances)
}

// Len returns the number of live instances.
func (r *Registry) Len() int {
	return len(r.instances)
}

// Summaries lists the live instances whose type is shown on clients.
func (r *Registry) Summaries() []Summary {
	out := make([]Summary, 0, len(r.instances))
	for _, inst := range r.instances {
		if inst.typ.ShowOnClient {
			out = append(out, inst.Summary())
		}
	}
	return out
}

// Tick runs every open instance's tick hook.
func (r *Registry) Tick(now time.Time) {
	for _, inst := range slices.Clone(r.instances) {
		t, ok := inst.state.(Ticker)
		if !ok || !inst.open {
			continue
		}
		if err := r.callHook(inst, "tick", func() error {
			t.OnTick(inst, now)
			return nil
		}); err != nil {
			r.logger.Error("tick hook failed", "type", inst.typ.Name, "instance_id", inst.id, "error", err)
		}
	}
}

// Dispatch routes a client UI event. instanceID may be empty, in which case
// every live instance is searched for the element.
func (r *Registry) Dispatch(instanceID, elementID, event string, args map[string]json.RawMessage) error {
	inst, err := r.findElementOwner(instanceID, elementID)
	if err != nil {
		return err
	}
	return r.callHook(inst, "ui event", func() error {
		return inst.tree.Dispatch(elementID, event, args)
	})
}

func (r *Registry) findElementOwner(instanceID, elementID string) (*Instance, error) {
	if inst, ok := r.byID[instanceID]; ok {
		if _, found := inst.tree.Find(elementID); found {
			return inst, nil
		}
	}
	for _, inst := range r.instances {
		if _, found := inst.tree.Find(elementID); found {
			return inst, nil
		}
	}
	return nil, errors.WithMetadata(errors.CodeLookup, fmt.Sprintf("element %s not found", elementID), map[string]string{"element_id": elementID})
}

// Flush publishes the summary list if anything changed since the last flush.
func (r *Registry) Flush() bool {
	if !r.dirty {
		return false
	}
	r.dirty = false
	r.publisher.PublishInstances(r.Summaries())
	return true
}

// LiveSetChanged reports whether an instance opened or closed since the
// last call.
func (r *Registry) LiveSetChanged() bool {
	changed := r.changed
	r.changed = false
	return changed
}

func (r *Registry) markDirty() {
	r.dirty = true
}

func (r *Registry) callHook(inst *Instance, hook string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = errors.WithMetadata(errors.CodePluginHook,
				fmt.Sprintf("%s hook of %s panicked: %v", hook, inst.typ.Name, recovered),
				map[string]string{"instance_id": inst.id, "hook": hook})
		}
	}()
	return fn()
}

type nopPublisher struct{}

func (nopPublisher) AudioCommand(audio.Command, string, string)     {}
func (nopPublisher) PublishInstances([]Summary)                     {}
func (nopPublisher) PublishElements(string, []ui.Descriptor)        {}
func (nopPublisher) PublishProperty(string, string, map[string]any) {}
func (nopPublisher) Notify(string, string)                          {}
func (nopPublisher) ForgetInstance(string)                          {}
