package ui

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/louisbranch/protoflow/internal/platform/errors"
)

type recordingObserver struct {
	structures int
	properties []string
}

func (o *recordingObserver) StructureChanged(*Tree) { o.structures++ }

func (o *recordingObserver) PropertyChanged(_ *Tree, el Element, name string, value any) {
	o.properties = append(o.properties, fmt.Sprintf("%s.%s=%v", el.ID(), name, value))
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("el-%d", n)
	}
}

func newObservedTree() (*Tree, *recordingObserver) {
	tree := NewTree(sequentialIDs())
	observer := &recordingObserver{}
	tree.SetObserver(observer)
	return tree, observer
}

func TestAppendAssignsIDsAndReportsStructure(t *testing.T) {
	tree, observer := newObservedTree()

	heading := NewHeading("Goal", 2)
	button := NewButton("Start")
	if err := tree.Append(heading, button); err != nil {
		t.Fatalf("append: %v", err)
	}

	if heading.ID() != "el-1" || button.ID() != "el-2" {
		t.Fatalf("unexpected ids %q %q", heading.ID(), button.ID())
	}
	if observer.structures != 1 {
		t.Fatalf("expected one structural change, got %d", observer.structures)
	}
	if tree.Len() != 2 {
		t.Fatalf("expected 2 elements, got %d", tree.Len())
	}
}

func TestAppendRejectsAttachedElement(t *testing.T) {
	first, _ := newObservedTree()
	second, observer := newObservedTree()

	paragraph := NewParagraph("note")
	if err := first.Append(paragraph); err != nil {
		t.Fatalf("append: %v", err)
	}
	err := second.Append(paragraph)
	if !errors.IsCode(err, errors.CodeInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if observer.structures != 0 {
		t.Fatal("rejected append must not report a change")
	}
}

func TestPropertyWriteEmitsOneChangeWhenAttached(t *testing.T) {
	tree, observer := newObservedTree()
	heading := NewHeading("Time", 3)

	heading.SetText("detached")
	if len(observer.properties) != 0 {
		t.Fatal("detached writes must not notify")
	}

	if err := tree.Append(heading); err != nil {
		t.Fatalf("append: %v", err)
	}
	heading.SetText("00:24:59")
	heading.SetText("00:24:59")

	want := []string{"el-1.Text=00:24:59", "el-1.Text=00:24:59"}
	if fmt.Sprint(observer.properties) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, observer.properties)
	}
}

func TestRemoveInsertMoveClear(t *testing.T) {
	tree, observer := newObservedTree()
	a, b, c := NewParagraph("a"), NewParagraph("b"), NewParagraph("c")
	if err := tree.Append(a, b); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tree.Insert(0, c); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if tree.IndexOf(c) != 0 {
		t.Fatalf("expected c first, got %d", tree.IndexOf(c))
	}
	if err := tree.Move(c, 2); err != nil {
		t.Fatalf("move: %v", err)
	}
	if tree.IndexOf(c) != 2 {
		t.Fatalf("expected c last, got %d", tree.IndexOf(c))
	}
	if !tree.Remove(a) {
		t.Fatal("expected a removed")
	}
	if a.Attached() {
		t.Fatal("removed element must be detached")
	}
	if tree.Remove(a) {
		t.Fatal("second remove must report false")
	}
	tree.Clear()
	if tree.Len() != 0 {
		t.Fatalf("expected empty tree, got %d", tree.Len())
	}
	if observer.structures != 5 {
		t.Fatalf("expected 5 structural changes, got %d", observer.structures)
	}

	a.SetText("after clear")
	if len(observer.properties) != 0 {
		t.Fatal("cleared elements must not notify")
	}
}

func TestRemoveAllReportsOnce(t *testing.T) {
	tree, observer := newObservedTree()
	a, b, c := NewParagraph("a"), NewButton("b"), NewHorizontalRule()
	if err := tree.Append(a, b, c); err != nil {
		t.Fatalf("append: %v", err)
	}
	if n := tree.RemoveAll([]Element{a, c}); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if observer.structures != 2 {
		t.Fatalf("expected append plus one removal change, got %d", observer.structures)
	}
	if tree.Len() != 1 || tree.Elements()[0] != Element(b) {
		t.Fatal("expected only b to remain")
	}
}

func TestDescriptorsEncodePropertiesAsJSONString(t *testing.T) {
	tree, _ := newObservedTree()
	if err := tree.Append(NewHeading("Goal", 2), NewInput(InputNumber, "Focus minutes")); err != nil {
		t.Fatalf("append: %v", err)
	}

	descriptors := tree.Descriptors()
	if len(descriptors) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(descriptors))
	}
	if descriptors[0].Type != KindHeading || descriptors[0].Properties != `{"Level":2,"Text":"Goal"}` {
		t.Fatalf("unexpected heading descriptor %+v", descriptors[0])
	}
	var props map[string]string
	if err := json.Unmarshal([]byte(descriptors[1].Properties), &props); err != nil {
		t.Fatalf("decode input props: %v", err)
	}
	if props["Type"] != "Number" || props["Placeholder"] != "Focus minutes" {
		t.Fatalf("unexpected input props %v", props)
	}
}

func TestDispatchInputValueChangedDoesNotEcho(t *testing.T) {
	tree, observer := newObservedTree()
	input := NewInput(InputText, "")
	var got string
	input.OnValueChanged(func(v string) { got = v })
	if err := tree.Append(input); err != nil {
		t.Fatalf("append: %v", err)
	}

	err := tree.Dispatch(input.ID(), "ValueChanged", map[string]json.RawMessage{"value": json.RawMessage(`"buy milk"`)})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if input.Text() != "buy milk" || got != "buy milk" {
		t.Fatalf("expected text stored and handler run, got %q %q", input.Text(), got)
	}
	if len(observer.properties) != 0 {
		t.Fatalf("expected no echo, got %v", observer.properties)
	}
}

func TestDispatchCheckboxEvents(t *testing.T) {
	tree, _ := newObservedTree()
	box := NewCheckbox("Shower")
	var states []bool
	checked, unchecked := 0, 0
	box.OnStateChanged(func(s bool) { states = append(states, s) })
	box.OnChecked(func() { checked++ })
	box.OnUnchecked(func() { unchecked++ })
	if err := tree.Append(box); err != nil {
		t.Fatalf("append: %v", err)
	}

	mustDispatch(t, tree, box.ID(), "StateChanged", `{"state":true}`)
	mustDispatch(t, tree, box.ID(), "Checked", `{}`)
	if !box.Checked() {
		t.Fatal("expected checked")
	}
	mustDispatch(t, tree, box.ID(), "StateChanged", `{"state":false}`)
	mustDispatch(t, tree, box.ID(), "Unchecked", `{}`)
	if box.Checked() {
		t.Fatal("expected unchecked")
	}
	if len(states) != 2 || checked != 1 || unchecked != 1 {
		t.Fatalf("unexpected handler counts %v %d %d", states, checked, unchecked)
	}
}

func TestDispatchErrors(t *testing.T) {
	tree, _ := newObservedTree()
	button := NewButton("Go")
	clicks := 0
	button.OnClick(func() { clicks++ })
	if err := tree.Append(button); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := tree.Dispatch("missing", "Click", nil); !errors.IsCode(err, errors.CodeLookup) {
		t.Fatalf("expected lookup error, got %v", err)
	}
	if err := tree.Dispatch(button.ID(), "Hover", nil); !errors.IsCode(err, errors.CodeLookup) {
		t.Fatalf("expected unknown event lookup error, got %v", err)
	}
	mustDispatch(t, tree, button.ID(), "Click", `{}`)
	if clicks != 1 {
		t.Fatalf("expected one click, got %d", clicks)
	}
}

func TestRebuildAndSetProperty(t *testing.T) {
	el, err := Rebuild(KindCheckbox, "saved-1")
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if el.ID() != "saved-1" {
		t.Fatalf("expected saved id, got %q", el.ID())
	}
	if err := el.SetProperty("Checked", json.RawMessage(`true`)); err != nil {
		t.Fatalf("set checked: %v", err)
	}
	if err := el.SetProperty("Checked", json.RawMessage(`"yes"`)); !errors.IsCode(err, errors.CodeDeserialization) {
		t.Fatalf("expected deserialization error, got %v", err)
	}
	if err := el.SetProperty("Color", json.RawMessage(`"red"`)); !errors.IsCode(err, errors.CodeDeserialization) {
		t.Fatalf("expected unknown property error, got %v", err)
	}
	if !el.(*Checkbox).Checked() {
		t.Fatal("failed writes must keep the previous value")
	}

	if _, err := Rebuild("Slider", "x"); !errors.IsCode(err, errors.CodeDeserialization) {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
}

func TestHeadingLevelClamped(t *testing.T) {
	if level := NewHeading("x", 9).Level(); level != 6 {
		t.Fatalf("expected 6, got %d", level)
	}
	if level := NewHeading("x", 0).Level(); level != 1 {
		t.Fatalf("expected 1, got %d", level)
	}
}

func mustDispatch(t *testing.T, tree *Tree, elementID, event, args string) {
	t.Helper()
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal([]byte(args), &decoded); err != nil {
		t.Fatalf("decode args: %v", err)
	}
	if err := tree.Dispatch(elementID, event, decoded); err != nil {
		t.Fatalf("dispatch %s: %v", event, err)
	}
}
