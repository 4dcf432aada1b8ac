package ui

import "encoding/json"

// Heading renders as h1-h6.
type Heading struct {
	node
	text  string
	level int
}

func NewHeading(text string, level int) *Heading {
	return &Heading{text: text, level: clampLevel(level)}
}

func (h *Heading) Kind() Kind   { return KindHeading }
func (h *Heading) Text() string { return h.text }
func (h *Heading) Level() int   { return h.level }

func (h *Heading) SetText(text string) {
	h.text = text
	h.changed(h, "Text", text)
}

// SetLevel clamps level to 1-6.
func (h *Heading) SetLevel(level int) {
	h.level = clampLevel(level)
	h.changed(h, "Level", h.level)
}

func (h *Heading) Properties() map[string]any {
	return map[string]any{"Text": h.text, "Level": h.level}
}

func (h *Heading) SetProperty(name string, raw json.RawMessage) error {
	switch name {
	case "Text":
		var v string
		if err := decodeProperty(h, name, raw, &v); err != nil {
			return err
		}
		h.SetText(v)
	case "Level":
		var v int
		if err := decodeProperty(h, name, raw, &v); err != nil {
			return err
		}
		h.SetLevel(v)
	default:
		return unknownProperty(h, name)
	}
	return nil
}

func (h *Heading) HandleEvent(name string, _ map[string]json.RawMessage) error {
	return unknownEvent(h, name)
}

func clampLevel(level int) int {
	return min(max(level, 1), 6)
}

// Paragraph is a block of text.
type Paragraph struct {
	node
	text string
}

func NewParagraph(text string) *Paragraph {
	return &Paragraph{text: text}
}

func (p *Paragraph) Kind() Kind   { return KindParagraph }
func (p *Paragraph) Text() string { return p.text }

func (p *Paragraph) SetText(text string) {
	p.text = text
	p.changed(p, "Text", text)
}

func (p *Paragraph) Properties() map[string]any {
	return map[string]any{"Text": p.text}
}

func (p *Paragraph) SetProperty(name string, raw json.RawMessage) error {
	if name != "Text" {
		return unknownProperty(p, name)
	}
	var v string
	if err := decodeProperty(p, name, raw, &v); err != nil {
		return err
	}
	p.SetText(v)
	return nil
}

func (p *Paragraph) HandleEvent(name string, _ map[string]json.RawMessage) error {
	return unknownEvent(p, name)
}

// HorizontalRule has no properties.
type HorizontalRule struct {
	node
}

func NewHorizontalRule() *HorizontalRule {
	return &HorizontalRule{}
}

func (r *HorizontalRule) Kind() Kind { return KindHorizontalRule }

func (r *HorizontalRule) Properties() map[string]any {
	return map[string]any{}
}

func (r *HorizontalRule) SetProperty(name string, _ json.RawMessage) error {
	return unknownProperty(r, name)
}

func (r *HorizontalRule) HandleEvent(name string, _ map[string]json.RawMessage) error {
	return unknownEvent(r, name)
}

// InputType selects the client control.
type InputType string

const (
	InputText   InputType = "Text"
	InputNumber InputType = "Number"
)

// Input is a single-line text or number field.
type Input struct {
	node
	inputType   InputType
	text        string
	placeholder string
	onChange    []func(string)
}

func NewInput(inputType InputType, placeholder string) *Input {
	if inputType == "" {
		inputType = InputText
	}
	return &Input{inputType: inputType, placeholder: placeholder}
}

func (in *Input) Kind() Kind                     { return KindInput }
func (in *Input) Type() InputType                { return in.inputType }
func (in *Input) Text() string                   { return in.text }
func (in *Input) Placeholder() string            { return in.placeholder }
func (in *Input) OnValueChanged(fn func(string)) { in.onChange = append(in.onChange, fn) }

func (in *Input) SetType(inputType InputType) {
	in.inputType = inputType
	in.changed(in, "Type", inputType)
}

func (in *Input) SetText(text string) {
	in.text = text
	in.changed(in, "Text", text)
}

func (in *Input) SetPlaceholder(placeholder string) {
	in.placeholder = placeholder
	in.changed(in, "Placeholder", placeholder)
}

func (in *Input) Properties() map[string]any {
	return map[string]any{"Type": in.inputType, "Text": in.text, "Placeholder": in.placeholder}
}

func (in *Input) SetProperty(name string, raw json.RawMessage) error {
	var v string
	switch name {
	case "Type", "Text", "Placeholder":
		if err := decodeProperty(in, name, raw, &v); err != nil {
			return err
		}
	default:
		return unknownProperty(in, name)
	}
	switch name {
	case "Type":
		in.SetType(InputType(v))
	case "Text":
		in.SetText(v)
	default:
		in.SetPlaceholder(v)
	}
	return nil
}

// HandleEvent accepts ValueChanged{value}. The client already shows the
// value, so the text is stored without a property push.
func (in *Input) HandleEvent(name string, args map[string]json.RawMessage) error {
	if name != "ValueChanged" {
		return unknownEvent(in, name)
	}
	var value string
	if err := eventArg(in, name, args, "value", &value); err != nil {
		return err
	}
	in.text = value
	for _, fn := range in.onChange {
		fn(value)
	}
	return nil
}

// Button emits Click.
type Button struct {
	node
	text    string
	onClick []func()
}

func NewButton(text string) *Button {
	return &Button{text: text}
}

func (b *Button) Kind() Kind        { return KindButton }
func (b *Button) Text() string      { return b.text }
func (b *Button) OnClick(fn func()) { b.onClick = append(b.onClick, fn) }

func (b *Button) SetText(text string) {
	b.text = text
	b.changed(b, "Text", text)
}

func (b *Button) Properties() map[string]any {
	return map[string]any{"Text": b.text}
}

func (b *Button) SetProperty(name string, raw json.RawMessage) error {
	if name != "Text" {
		return unknownProperty(b, name)
	}
	var v string
	if err := decodeProperty(b, name, raw, &v); err != nil {
		return err
	}
	b.SetText(v)
	return nil
}

func (b *Button) HandleEvent(name string, _ map[string]json.RawMessage) error {
	if name != "Click" {
		return unknownEvent(b, name)
	}
	for _, fn := range b.onClick {
		fn()
	}
	return nil
}

// Checkbox emits StateChanged{state}, then Checked or Unchecked.
type Checkbox struct {
	node
	text        string
	checked     bool
	onState     []func(bool)
	onChecked   []func()
	onUnchecked []func()
}

func NewCheckbox(text string) *Checkbox {
	return &Checkbox{text: text}
}

func (c *Checkbox) Kind() Kind                   { return KindCheckbox }
func (c *Checkbox) Text() string                 { return c.text }
func (c *Checkbox) Checked() bool                { return c.checked }
func (c *Checkbox) OnStateChanged(fn func(bool)) { c.onState = append(c.onState, fn) }
func (c *Checkbox) OnChecked(fn func())          { c.onChecked = append(c.onChecked, fn) }
func (c *Checkbox) OnUnchecked(fn func())        { c.onUnchecked = append(c.onUnchecked, fn) }

func (c *Checkbox) SetText(text string) {
	c.text = text
	c.changed(c, "Text", text)
}

func (c *Checkbox) SetChecked(checked bool) {
	c.checked = checked
	c.changed(c, "Checked", checked)
}

func (c *Checkbox) Properties() map[string]any {
	return map[string]any{"Text": c.text, "Checked": c.checked}
}

func (c *Checkbox) SetProperty(name string, raw json.RawMessage) error {
	switch name {
	case "Text":
		var v string
		if err := decodeProperty(c, name, raw, &v); err != nil {
			return err
		}
		c.SetText(v)
	case "Checked":
		var v bool
		if err := decodeProperty(c, name, raw, &v); err != nil {
			return err
		}
		c.SetChecked(v)
	default:
		return unknownProperty(c, name)
	}
	return nil
}

// HandleEvent mirrors the client state without echoing it back.
func (c *Checkbox) HandleEvent(name string, args map[string]json.RawMessage) error {
	switch name {
	case "StateChanged":
		var state bool
		if err := eventArg(c, name, args, "state", &state); err != nil {
			return err
		}
		c.checked = state
		for _, fn := range c.onState {
			fn(state)
		}
	case "Checked":
		c.checked = true
		for _, fn := range c.onChecked {
			fn()
		}
	case "Unchecked":
		c.checked = false
		for _, fn := range c.onUnchecked {
			fn()
		}
	default:
		return unknownEvent(c, name)
	}
	return nil
}
