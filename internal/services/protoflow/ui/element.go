// Package ui models the declarative element list an instance shows to
// remote viewers and reports every change to an observer.
package ui

import (
	"encoding/json"
	"fmt"

	"github.com/louisbranch/protoflow/internal/platform/errors"
)

// Kind names an element variant on the wire.
type Kind string

const (
	KindHeading        Kind = "Heading"
	KindParagraph      Kind = "Paragraph"
	KindHorizontalRule Kind = "HorizontalRule"
	KindInput          Kind = "Input"
	KindButton         Kind = "Button"
	KindCheckbox       Kind = "Checkbox"
)

// Element is one node of a Tree. The set of implementations is closed.
type Element interface {
	ID() string
	Kind() Kind
	// Properties returns the property bag sent to viewers and snapshots.
	Properties() map[string]any
	// SetProperty decodes raw into the named property through its setter.
	SetProperty(name string, raw json.RawMessage) error
	// HandleEvent runs the handlers for a client event.
	HandleEvent(name string, args map[string]json.RawMessage) error
	base() *node
}

type node struct {
	id   string
	tree *Tree
}

func (n *node) ID() string { return n.id }

func (n *node) base() *node { return n }

// Attached reports whether the element belongs to a tree.
func (n *node) Attached() bool { return n.tree != nil }

func (n *node) changed(el Element, name string, value any) {
	if n.tree != nil {
		n.tree.propertyChanged(el, name, value)
	}
}

// New returns the default value of kind, used when rebuilding saved trees.
func New(kind Kind) (Element, error) {
	switch kind {
	case KindHeading:
		return NewHeading("", 1), nil
	case KindParagraph:
		return NewParagraph(""), nil
	case KindHorizontalRule:
		return NewHorizontalRule(), nil
	case KindInput:
		return NewInput(InputText, ""), nil
	case KindButton:
		return NewButton(""), nil
	case KindCheckbox:
		return NewCheckbox(""), nil
	default:
		return nil, errors.New(errors.CodeDeserialization, fmt.Sprintf("unknown element kind %q", kind))
	}
}

// Rebuild returns the default value of kind carrying a saved ID.
func Rebuild(kind Kind, id string) (Element, error) {
	el, err := New(kind)
	if err != nil {
		return nil, err
	}
	el.base().id = id
	return el, nil
}

func decodeProperty(el Element, name string, raw json.RawMessage, target any) error {
	if err := json.Unmarshal(raw, target); err != nil {
		return errors.WrapWithMetadata(errors.CodeDeserialization,
			fmt.Sprintf("decode %s.%s", el.Kind(), name),
			map[string]string{"element_id": el.ID(), "property": name}, err)
	}
	return nil
}

func unknownProperty(el Element, name string) error {
	return errors.WithMetadata(errors.CodeDeserialization,
		fmt.Sprintf("%s has no property %q", el.Kind(), name),
		map[string]string{"element_id": el.ID(), "property": name})
}

func unknownEvent(el Element, name string) error {
	return errors.WithMetadata(errors.CodeLookup,
		fmt.Sprintf("%s has no event %q", el.Kind(), name),
		map[string]string{"element_id": el.ID(), "event": name})
}

func eventArg(el Element, event string, args map[string]json.RawMessage, name string, target any) error {
	raw, ok := args[name]
	if !ok {
		return errors.New(errors.CodeInvalidArgument, fmt.Sprintf("%s %s requires argument %q", el.Kind(), event, name))
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return errors.Wrap(errors.CodeInvalidArgument, fmt.Sprintf("%s %s argument %q", el.Kind(), event, name), err)
	}
	return nil
}
