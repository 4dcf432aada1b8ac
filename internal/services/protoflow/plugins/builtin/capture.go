package builtin

import (
	"slices"
	"strings"

	"github.com/louisbranch/protoflow/internal/services/protoflow/instance"
	"github.com/louisbranch/protoflow/internal/services/protoflow/ui"
)

const capturePlaceholder = "Your thoughts go here..."

// CaptureSystem keeps the captured thoughts and lists them with a Done
// button each.
type CaptureSystem struct {
	CaptureList []string

	inst   *instance.Instance
	input  *ui.Input
	listed []ui.Element
}

func (c *CaptureSystem) PersistentFields() []instance.Field {
	return []instance.Field{{Name: "CaptureList", Value: &c.CaptureList}}
}

func (c *CaptureSystem) OnOpen(inst *instance.Instance) error {
	c.inst = inst
	c.input = ui.NewInput(ui.InputText, capturePlaceholder)
	capture := ui.NewButton("Capture")
	capture.OnClick(func() {
		if c.Capture(c.input.Text()) {
			c.input.SetText("")
		}
	})
	if err := inst.UI().Append(c.input, capture, ui.NewHorizontalRule()); err != nil {
		return err
	}
	return c.render()
}

// Capture adds text to the list. Blank text is ignored.
func (c *CaptureSystem) Capture(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	c.CaptureList = append(c.CaptureList, text)
	c.refresh()
	return true
}

// Done removes the first entry equal to text.
func (c *CaptureSystem) Done(text string) bool {
	index := slices.Index(c.CaptureList, text)
	if index == -1 {
		return false
	}
	c.CaptureList = slices.Delete(c.CaptureList, index, index+1)
	c.refresh()
	return true
}

func (c *CaptureSystem) refresh() {
	if c.inst == nil {
		return
	}
	_ = c.render()
}

func (c *CaptureSystem) render() error {
	tree := c.inst.UI()
	tree.RemoveAll(c.listed)
	c.listed = make([]ui.Element, 0, 3*len(c.CaptureList))
	for _, item := range c.CaptureList {
		done := ui.NewButton("Done")
		done.OnClick(func() { c.Done(item) })
		c.listed = append(c.listed, ui.NewParagraph(item), done, ui.NewHorizontalRule())
	}
	return tree.Append(c.listed...)
}

// CaptureProtocol is a one-shot capture form that hands its text to the
// CaptureSystem and closes.
type CaptureProtocol struct{}

func (p *CaptureProtocol) OnOpen(inst *instance.Instance) error {
	input := ui.NewInput(ui.InputText, capturePlaceholder)
	capture := ui.NewButton("Capture")
	capture.OnClick(func() {
		system, err := instance.SystemState[*CaptureSystem](inst.Registry(), CaptureSystemType)
		if err != nil {
			inst.Notify("Capture failed", err.Error())
			return
		}
		system.Capture(input.Text())
		_ = inst.Close()
	})
	return inst.UI().Append(input, capture)
}
