package luaplugin

import (
	"github.com/Shopify/go-lua"

	"github.com/louisbranch/protoflow/internal/services/protoflow/ui"
)

// registerAPI installs the protoflow global and the callback table.
func (s *scriptInstance) registerAPI(state *lua.State) {
	state.NewTable()
	state.SetGlobal(callbacksGlobal)

	state.NewTable()
	lua.SetFunctions(state, []lua.RegistryFunction{
		{Name: "heading", Function: s.luaHeading},
		{Name: "paragraph", Function: s.luaParagraph},
		{Name: "rule", Function: s.luaRule},
		{Name: "input", Function: s.luaInput},
		{Name: "button", Function: s.luaButton},
		{Name: "checkbox", Function: s.luaCheckbox},
		{Name: "on", Function: s.luaOn},
		{Name: "set_text", Function: s.luaSetText},
		{Name: "get_text", Function: s.luaGetText},
		{Name: "is_checked", Function: s.luaIsChecked},
		{Name: "set_checked", Function: s.luaSetChecked},
		{Name: "remove", Function: s.luaRemove},
		{Name: "clear", Function: s.luaClear},
		{Name: "elements", Function: s.luaElements},
		{Name: "set_title", Function: s.luaSetTitle},
		{Name: "notify", Function: s.luaNotify},
		{Name: "play", Function: s.luaPlay},
		{Name: "stop", Function: s.luaStop},
		{Name: "get", Function: s.luaGet},
		{Name: "set", Function: s.luaSet},
		{Name: "open", Function: s.luaOpen},
		{Name: "close", Function: s.luaClose},
		{Name: "log", Function: s.luaLog},
	}, 0)
	state.SetGlobal("protoflow")
}

func (s *scriptInstance) requireInstance(l *lua.State) {
	if s.inst == nil {
		lua.Errorf(l, "protoflow api is only available inside hooks")
	}
}

// appendElement adds el to the tree and pushes its ID.
func (s *scriptInstance) appendElement(l *lua.State, el ui.Element) int {
	if err := s.inst.UI().Append(el); err != nil {
		lua.Errorf(l, "%s", err.Error())
	}
	l.PushString(el.ID())
	return 1
}

func (s *scriptInstance) element(l *lua.State, index int) ui.Element {
	id := lua.CheckString(l, index)
	el, ok := s.inst.UI().Find(id)
	if !ok {
		lua.Errorf(l, "element %s not found", id)
	}
	return el
}

func (s *scriptInstance) luaHeading(l *lua.State) int {
	s.requireInstance(l)
	return s.appendElement(l, ui.NewHeading(lua.CheckString(l, 1), lua.OptInteger(l, 2, 1)))
}

func (s *scriptInstance) luaParagraph(l *lua.State) int {
	s.requireInstance(l)
	return s.appendElement(l, ui.NewParagraph(lua.CheckString(l, 1)))
}

func (s *scriptInstance) luaRule(l *lua.State) int {
	s.requireInstance(l)
	return s.appendElement(l, ui.NewHorizontalRule())
}

// luaInput is input(placeholder [, "Number"] [, on_change]).
func (s *scriptInstance) luaInput(l *lua.State) int {
	s.requireInstance(l)
	el := ui.NewInput(ui.InputType(lua.OptString(l, 2, string(ui.InputText))), lua.OptString(l, 1, ""))
	n := s.appendElement(l, el)
	s.bind(l, 3, el)
	return n
}

func (s *scriptInstance) luaButton(l *lua.State) int {
	s.requireInstance(l)
	el := ui.NewButton(lua.CheckString(l, 1))
	n := s.appendElement(l, el)
	s.bind(l, 2, el)
	return n
}

func (s *scriptInstance) luaCheckbox(l *lua.State) int {
	s.requireInstance(l)
	el := ui.NewCheckbox(lua.CheckString(l, 1))
	n := s.appendElement(l, el)
	s.bind(l, 2, el)
	return n
}

// luaOn replaces the callback of an existing element.
func (s *scriptInstance) luaOn(l *lua.State) int {
	s.requireInstance(l)
	lua.CheckType(l, 2, lua.TypeFunction)
	s.bind(l, 2, s.element(l, 1))
	return 0
}

func (s *scriptInstance) luaSetText(l *lua.State) int {
	s.requireInstance(l)
	el := s.element(l, 1)
	text := lua.CheckString(l, 2)
	switch el := el.(type) {
	case *ui.Heading:
		el.SetText(text)
	case *ui.Paragraph:
		el.SetText(text)
	case *ui.Input:
		el.SetText(text)
	case *ui.Button:
		el.SetText(text)
	case *ui.Checkbox:
		el.SetText(text)
	default:
		lua.Errorf(l, "%s has no text", el.Kind())
	}
	return 0
}

func (s *scriptInstance) luaGetText(l *lua.State) int {
	s.requireInstance(l)
	el := s.element(l, 1)
	texter, ok := el.(interface{ Text() string })
	if !ok {
		lua.Errorf(l, "%s has no text", el.Kind())
	}
	l.PushString(texter.Text())
	return 1
}

func (s *scriptInstance) checkbox(l *lua.State) *ui.Checkbox {
	el := s.element(l, 1)
	box, ok := el.(*ui.Checkbox)
	if !ok {
		lua.Errorf(l, "%s is not a checkbox", el.ID())
	}
	return box
}

func (s *scriptInstance) luaIsChecked(l *lua.State) int {
	s.requireInstance(l)
	l.PushBoolean(s.checkbox(l).Checked())
	return 1
}

func (s *scriptInstance) luaSetChecked(l *lua.State) int {
	s.requireInstance(l)
	s.checkbox(l).SetChecked(l.ToBoolean(2))
	return 0
}

func (s *scriptInstance) luaRemove(l *lua.State) int {
	s.requireInstance(l)
	l.PushBoolean(s.inst.UI().RemoveID(lua.CheckString(l, 1)))
	return 1
}

func (s *scriptInstance) luaClear(l *lua.State) int {
	s.requireInstance(l)
	s.inst.UI().Clear()
	return 0
}

// luaElements returns an array of {id, kind, text}.
func (s *scriptInstance) luaElements(l *lua.State) int {
	s.requireInstance(l)
	elements := s.inst.UI().Elements()
	l.CreateTable(len(elements), 0)
	for i, el := range elements {
		l.CreateTable(0, 3)
		l.PushString(el.ID())
		l.SetField(-2, "id")
		l.PushString(string(el.Kind()))
		l.SetField(-2, "kind")
		if texter, ok := el.(interface{ Text() string }); ok {
			l.PushString(texter.Text())
			l.SetField(-2, "text")
		}
		l.RawSetInt(-2, i+1)
	}
	return 1
}

func (s *scriptInstance) luaSetTitle(l *lua.State) int {
	s.requireInstance(l)
	s.inst.SetTitle(lua.CheckString(l, 1))
	return 0
}

func (s *scriptInstance) luaNotify(l *lua.State) int {
	s.requireInstance(l)
	s.inst.Notify(lua.CheckString(l, 1), lua.OptString(l, 2, ""))
	return 0
}

// luaPlay creates a clip on the clients, plays it and returns its ID.
func (s *scriptInstance) luaPlay(l *lua.State) int {
	s.requireInstance(l)
	clip := s.inst.Audio().Create(lua.CheckString(l, 1))
	clip.Play()
	s.audio[clip.ID()] = clip
	l.PushString(clip.ID())
	return 1
}

func (s *scriptInstance) luaStop(l *lua.State) int {
	s.requireInstance(l)
	id := lua.CheckString(l, 1)
	if clip, ok := s.audio[id]; ok {
		clip.Release()
		delete(s.audio, id)
	}
	return 0
}

func (s *scriptInstance) luaGet(l *lua.State) int {
	s.requireInstance(l)
	value, ok := s.Storage[lua.CheckString(l, 1)]
	if !ok {
		l.PushNil()
		return 1
	}
	l.PushString(value)
	return 1
}

// luaSet stores a string value; nil deletes the key.
func (s *scriptInstance) luaSet(l *lua.State) int {
	s.requireInstance(l)
	key := lua.CheckString(l, 1)
	if l.IsNoneOrNil(2) {
		delete(s.Storage, key)
		return 0
	}
	s.Storage[key] = lua.CheckString(l, 2)
	return 0
}

// luaOpen opens another plugin type and returns its instance ID, or nil and
// an error message.
func (s *scriptInstance) luaOpen(l *lua.State) int {
	s.requireInstance(l)
	opened, err := s.inst.Registry().OpenByName(lua.CheckString(l, 1))
	if err != nil {
		l.PushNil()
		l.PushString(err.Error())
		return 2
	}
	l.PushString(opened.ID())
	return 1
}

func (s *scriptInstance) luaClose(l *lua.State) int {
	s.requireInstance(l)
	if err := s.inst.Close(); err != nil {
		lua.Errorf(l, "%s", err.Error())
	}
	return 0
}

func (s *scriptInstance) luaLog(l *lua.State) int {
	message := lua.CheckString(l, 1)
	if s.logger == nil {
		return 0
	}
	attrs := []any{"script", s.script.Chunk}
	if s.inst != nil {
		attrs = append(attrs, "instance_id", s.inst.ID())
	}
	s.logger.Info(message, attrs...)
	return 0
}
