// Package snapshot converts live instances to and from their persisted
// form. Restoring is tolerant: a bad field, element or record is skipped
// with a warning and never aborts the rest.
package snapshot

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/louisbranch/protoflow/internal/platform/errors"
	"github.com/louisbranch/protoflow/internal/platform/id"
	"github.com/louisbranch/protoflow/internal/services/protoflow/instance"
	"github.com/louisbranch/protoflow/internal/services/protoflow/ui"
)

// Key is the storage key of the registry snapshot document.
const Key = "open_instances"

// Record is the persisted form of one instance.
type Record struct {
	TypeName        string                     `json:"TypeName"`
	InstanceID      string                     `json:"InstanceID"`
	Title           string                     `json:"Title"`
	UI              []ElementRecord            `json:"UI"`
	InstanceStorage map[string]json.RawMessage `json:"InstanceStorage"`
}

// ElementRecord is the persisted form of one UI element.
type ElementRecord struct {
	Type       ui.Kind                    `json:"Type"`
	Properties map[string]json.RawMessage `json:"Properties"`
	ElementID  string                     `json:"ElementID"`
}

// Codec reads and writes snapshots of one registry.
type Codec struct {
	registry *instance.Registry
	logger   *slog.Logger
}

// NewCodec returns a codec bound to registry.
func NewCodec(registry *instance.Registry, logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{registry: registry, logger: logger}
}

// Take captures the persistent subset of inst.
func Take(inst *instance.Instance) (Record, error) {
	rec := Record{
		TypeName:        inst.TypeName(),
		InstanceID:      inst.ID(),
		Title:           inst.Title(),
		UI:              []ElementRecord{},
		InstanceStorage: map[string]json.RawMessage{},
	}
	if p, ok := inst.State().(instance.Persistent); ok {
		for _, field := range p.PersistentFields() {
			raw, err := json.Marshal(field.Value)
			if err != nil {
				return Record{}, errors.WrapWithMetadata(errors.CodeDeserialization,
					fmt.Sprintf("encode field %s of %s", field.Name, inst.TypeName()),
					map[string]string{"instance_id": inst.ID(), "field": field.Name}, err)
			}
			rec.InstanceStorage[field.Name] = raw
		}
	}
	if inst.Type().PersistUI {
		for _, el := range inst.UI().Elements() {
			props := make(map[string]json.RawMessage)
			for name, value := range el.Properties() {
				raw, err := json.Marshal(value)
				if err != nil {
					return Record{}, errors.Wrap(errors.CodeDeserialization, fmt.Sprintf("encode %s.%s", el.Kind(), name), err)
				}
				props[name] = raw
			}
			rec.UI = append(rec.UI, ElementRecord{Type: el.Kind(), Properties: props, ElementID: el.ID()})
		}
	}
	return rec, nil
}

// Encode captures every live instance. An instance that cannot be captured
// is logged and left out.
func (c *Codec) Encode() ([]byte, error) {
	records := make([]Record, 0, c.registry.Len())
	for _, inst := range c.registry.Instances() {
		rec, err := Take(inst)
		if err != nil {
			c.logger.Warn("skip instance in snapshot", "instance_id", inst.ID(), "type", inst.TypeName(), "error", err)
			continue
		}
		records = append(records, rec)
	}
	return json.Marshal(records)
}

// Restore rebuilds a prepared instance from rec. The instance is not yet
// live; warnings describe every skipped field and element.
func (c *Codec) Restore(rec Record) (*instance.Instance, []error) {
	var warnings []error
	instanceID := rec.InstanceID
	if instanceID == "" {
		instanceID = id.MustNewID()
		warnings = append(warnings, errors.New(errors.CodeDeserialization, fmt.Sprintf("record of %s has no instance id; assigned %s", rec.TypeName, instanceID)))
	}
	inst, err := c.registry.Prepare(rec.TypeName, instanceID, rec.Title)
	if err != nil {
		return nil, append(warnings, err)
	}

	if p, ok := inst.State().(instance.Persistent); ok {
		for _, field := range p.PersistentFields() {
			raw, present := rec.InstanceStorage[field.Name]
			if !present {
				warnings = append(warnings, errors.WithMetadata(errors.CodeDeserialization,
					fmt.Sprintf("field %s missing from %s record", field.Name, rec.TypeName),
					map[string]string{"instance_id": instanceID, "field": field.Name}))
				continue
			}
			if err := assignField(field, raw); err != nil {
				warnings = append(warnings, errors.WrapWithMetadata(errors.CodeDeserialization,
					fmt.Sprintf("field %s of %s", field.Name, rec.TypeName),
					map[string]string{"instance_id": instanceID, "field": field.Name}, err))
			}
		}
	}

	if inst.Type().PersistUI {
		warnings = append(warnings, restoreElements(inst.UI(), rec.UI)...)
	}
	return inst, warnings
}

// assignField decodes into a fresh value and only then overwrites the
// field, so a malformed value keeps the constructor default.
func assignField(field instance.Field, raw json.RawMessage) error {
	target := reflect.ValueOf(field.Value)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		return fmt.Errorf("field value must be a non-nil pointer, got %T", field.Value)
	}
	fresh := reflect.New(target.Elem().Type())
	if err := json.Unmarshal(raw, fresh.Interface()); err != nil {
		return err
	}
	target.Elem().Set(fresh.Elem())
	return nil
}

func restoreElements(tree *ui.Tree, records []ElementRecord) []error {
	var warnings []error
	for _, rec := range records {
		if _, taken := tree.Find(rec.ElementID); taken {
			warnings = append(warnings, errors.WithMetadata(errors.CodeDeserialization,
				fmt.Sprintf("duplicate element id %s", rec.ElementID),
				map[string]string{"element_id": rec.ElementID}))
			continue
		}
		el, err := ui.Rebuild(rec.Type, rec.ElementID)
		if err != nil {
			warnings = append(warnings, err)
			continue
		}
		for name, raw := range rec.Properties {
			if err := el.SetProperty(name, raw); err != nil {
				warnings = append(warnings, err)
			}
		}
		if err := tree.Append(el); err != nil {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// LoadResult summarises a Load.
type LoadResult struct {
	Restored int
	Skipped  int
	Warnings []error
}

// Load restores and opens every record of doc independently. It only fails
// when doc is not a JSON array.
func (c *Codec) Load(doc []byte) (LoadResult, error) {
	var result LoadResult
	var raws []json.RawMessage
	if err := json.Unmarshal(doc, &raws); err != nil {
		return result, errors.Wrap(errors.CodeDeserialization, "decode snapshot document", err)
	}

	for i, raw := range raws {
		if err := c.loadOne(raw, &result); err != nil {
			result.Skipped++
			result.Warnings = append(result.Warnings, err)
			c.logger.Warn("skip snapshot record", "index", i, "error", err)
		}
	}
	return result, nil
}

func (c *Codec) loadOne(raw json.RawMessage, result *LoadResult) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = errors.New(errors.CodeDeserialization, fmt.Sprintf("restore panicked: %v", recovered))
		}
	}()

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return errors.Wrap(errors.CodeDeserialization, "decode snapshot record", err)
	}
	inst, warnings := c.Restore(rec)
	if inst == nil {
		return stderrors.Join(warnings...)
	}
	for _, w := range warnings {
		c.logger.Warn("snapshot restore warning", "instance_id", inst.ID(), "type", rec.TypeName, "error", w)
	}
	result.Warnings = append(result.Warnings, warnings...)
	if err := c.registry.OpenRestored(inst); err != nil {
		return err
	}
	result.Restored++
	return nil
}
