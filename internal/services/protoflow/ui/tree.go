package ui

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/louisbranch/protoflow/internal/platform/errors"
	"github.com/louisbranch/protoflow/internal/platform/id"
)

// Observer receives every change of a Tree.
type Observer interface {
	// StructureChanged follows append, insert, remove, move and clear.
	StructureChanged(t *Tree)
	// PropertyChanged follows a single property write on an attached element.
	PropertyChanged(t *Tree, el Element, name string, value any)
}

// Descriptor is the wire form of an element. Properties holds the JSON
// encoded property bag.
type Descriptor struct {
	ElementID  string `json:"ElementID"`
	Type       Kind   `json:"Type"`
	Properties string `json:"Properties"`
}

// Tree is the ordered element list of one instance. It is not safe for
// concurrent use; the runtime run loop owns it.
type Tree struct {
	elements []Element
	observer Observer
	newID    func() string
}

// NewTree returns an empty tree. newID defaults to id.MustNewID.
func NewTree(newID func() string) *Tree {
	if newID == nil {
		newID = id.MustNewID
	}
	return &Tree{newID: newID}
}

// SetObserver replaces the change observer.
func (t *Tree) SetObserver(o Observer) {
	t.observer = o
}

// Append adds elements at the end.
func (t *Tree) Append(els ...Element) error {
	return t.insert(len(t.elements), els)
}

// Insert adds el before index; index == Len appends.
func (t *Tree) Insert(index int, el Element) error {
	return t.insert(index, []Element{el})
}

func (t *Tree) insert(index int, els []Element) error {
	if index < 0 || index > len(t.elements) {
		return errors.New(errors.CodeInvalidArgument, fmt.Sprintf("insert index %d out of range", index))
	}
	for i, el := range els {
		if el == nil {
			return errors.New(errors.CodeInvalidArgument, "element is nil")
		}
		if el.base().tree != nil {
			return errors.New(errors.CodeInvariantViolation, fmt.Sprintf("element %s already belongs to a tree", el.ID()))
		}
		if slices.Contains(els[:i], el) {
			return errors.New(errors.CodeInvalidArgument, "element listed twice")
		}
	}
	if len(els) == 0 {
		return nil
	}
	for _, el := range els {
		n := el.base()
		if n.id == "" {
			n.id = t.newID()
		}
		n.tree = t
	}
	t.elements = slices.Insert(t.elements, index, els...)
	t.structureChanged()
	return nil
}

// Remove detaches el. It reports false when el is not in the tree.
func (t *Tree) Remove(el Element) bool {
	index := t.IndexOf(el)
	if index == -1 {
		return false
	}
	t.elements = slices.Delete(t.elements, index, index+1)
	el.base().tree = nil
	t.structureChanged()
	return true
}

// RemoveID detaches the element with the given ID.
func (t *Tree) RemoveID(elementID string) bool {
	el, ok := t.Find(elementID)
	if !ok {
		return false
	}
	return t.Remove(el)
}

// RemoveAll detaches every listed element with a single structural change.
func (t *Tree) RemoveAll(els []Element) int {
	removed := 0
	t.elements = slices.DeleteFunc(t.elements, func(el Element) bool {
		if slices.Contains(els, el) {
			el.base().tree = nil
			removed++
			return true
		}
		return false
	})
	if removed > 0 {
		t.structureChanged()
	}
	return removed
}

// Move repositions el to index.
func (t *Tree) Move(el Element, index int) error {
	from := t.IndexOf(el)
	if from == -1 {
		return errors.New(errors.CodeLookup, fmt.Sprintf("element %s is not in the tree", el.ID()))
	}
	if index < 0 || index >= len(t.elements) {
		return errors.New(errors.CodeInvalidArgument, fmt.Sprintf("move index %d out of range", index))
	}
	t.elements = slices.Delete(t.elements, from, from+1)
	t.elements = slices.Insert(t.elements, index, el)
	t.structureChanged()
	return nil
}

// Clear detaches every element.
func (t *Tree) Clear() {
	if len(t.elements) == 0 {
		return
	}
	for _, el := range t.elements {
		el.base().tree = nil
	}
	t.elements = nil
	t.structureChanged()
}

// Elements returns a copy of the element list.
func (t *Tree) Elements() []Element {
	return slices.Clone(t.elements)
}

// Len returns the number of elements.
func (t *Tree) Len() int {
	return len(t.elements)
}

// IndexOf returns the position of el or -1.
func (t *Tree) IndexOf(el Element) int {
	return slices.Index(t.elements, el)
}

// Find returns the element with the given ID.
func (t *Tree) Find(elementID string) (Element, bool) {
	for _, el := range t.elements {
		if el.ID() == elementID {
			return el, true
		}
	}
	return nil, false
}

// Descriptors returns the wire form of every element in order.
func (t *Tree) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(t.elements))
	for _, el := range t.elements {
		out = append(out, Describe(el))
	}
	return out
}

// Dispatch routes a client event to the element with the given ID.
func (t *Tree) Dispatch(elementID, event string, args map[string]json.RawMessage) error {
	el, ok := t.Find(elementID)
	if !ok {
		return errors.New(errors.CodeLookup, fmt.Sprintf("element %s not found", elementID))
	}
	return el.HandleEvent(event, args)
}

// Describe encodes el for the wire.
func Describe(el Element) Descriptor {
	props, err := json.Marshal(el.Properties())
	if err != nil {
		props = []byte("{}")
	}
	return Descriptor{ElementID: el.ID(), Type: el.Kind(), Properties: string(props)}
}

func (t *Tree) structureChanged() {
	if t.observer != nil {
		t.observer.StructureChanged(t)
	}
}

func (t *Tree) propertyChanged(el Element, name string, value any) {
	if t.observer != nil {
		t.observer.PropertyChanged(t, el, name, value)
	}
}
