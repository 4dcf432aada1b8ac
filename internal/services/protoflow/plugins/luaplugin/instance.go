package luaplugin

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Shopify/go-lua"

	"github.com/louisbranch/protoflow/internal/services/protoflow/audio"
	"github.com/louisbranch/protoflow/internal/services/protoflow/instance"
	"github.com/louisbranch/protoflow/internal/services/protoflow/ui"
)

const callbacksGlobal = "__callbacks"

// scriptInstance is the plugin state of one Lua-backed instance.
type scriptInstance struct {
	// Storage is the persistent key/value store exposed as protoflow.get/set.
	Storage map[string]string

	script Script
	logger *slog.Logger
	state  *lua.State
	inst   *instance.Instance
	audio  map[string]*audio.Audio
	wired  map[string]bool
}

func (s *scriptInstance) PersistentFields() []instance.Field {
	return []instance.Field{{Name: "Storage", Value: &s.Storage}}
}

func (s *scriptInstance) OnOpen(inst *instance.Instance) error {
	s.inst = inst
	s.audio = make(map[string]*audio.Audio)
	s.wired = make(map[string]bool)
	if s.Storage == nil {
		s.Storage = make(map[string]string)
	}
	state, err := newState(s.script.Chunk, s.script.Source, s)
	if err != nil {
		return err
	}
	s.state = state
	if inst.Restored() {
		s.rebind()
	}
	return s.call("on_open", func(l *lua.State) int {
		l.PushBoolean(inst.Restored())
		return 1
	})
}

func (s *scriptInstance) OnTick(_ *instance.Instance, now time.Time) {
	if s.state == nil {
		return
	}
	if err := s.call("on_tick", func(l *lua.State) int {
		l.PushNumber(float64(now.UnixNano()) / float64(time.Second))
		return 1
	}); err != nil {
		s.logger.Warn("lua tick hook failed", "instance_id", s.inst.ID(), "error", err)
	}
}

func (s *scriptInstance) OnClose(*instance.Instance) {
	if s.state == nil {
		return
	}
	if err := s.call("on_close", nil); err != nil {
		s.logger.Warn("lua close hook failed", "instance_id", s.inst.ID(), "error", err)
	}
}

// call runs the plugin table's hook if the script defines it.
func (s *scriptInstance) call(hook string, pushArgs func(*lua.State) int) error {
	l := s.state
	top := l.Top()
	defer l.SetTop(top)

	l.Global(pluginGlobal)
	l.Field(-1, hook)
	if !l.IsFunction(-1) {
		return nil
	}
	args := 0
	if pushArgs != nil {
		args = pushArgs(l)
	}
	if err := l.ProtectedCall(args, 0, 0); err != nil {
		return fmt.Errorf("%s: %w", hook, err)
	}
	return nil
}

// invoke runs the callback stored under key.
func (s *scriptInstance) invoke(key string, pushArgs func(*lua.State) int) {
	l := s.state
	top := l.Top()
	defer l.SetTop(top)

	l.Global(callbacksGlobal)
	if !l.IsTable(-1) {
		return
	}
	l.Field(-1, key)
	if !l.IsFunction(-1) {
		return
	}
	args := 0
	if pushArgs != nil {
		args = pushArgs(l)
	}
	if err := l.ProtectedCall(args, 0, 0); err != nil {
		s.logger.Warn("lua callback failed", "instance_id", s.inst.ID(), "element_id", key, "error", err)
	}
}

// bind stores the function at index as the callback of el and wires the
// element event to it.
func (s *scriptInstance) bind(l *lua.State, index int, el ui.Element) {
	if !l.IsFunction(index) {
		return
	}
	index = l.AbsIndex(index)
	l.Global(callbacksGlobal)
	l.PushValue(index)
	l.SetField(-2, el.ID())
	l.Pop(1)
	s.wire(el)
}

func (s *scriptInstance) wire(el ui.Element) {
	key := el.ID()
	if s.wired[key] {
		return
	}
	s.wired[key] = true
	switch el := el.(type) {
	case *ui.Button:
		el.OnClick(func() { s.invoke(key, nil) })
	case *ui.Checkbox:
		// Clients follow StateChanged with Checked or Unchecked; the callback
		// runs once per toggle.
		el.OnStateChanged(func(checked bool) {
			s.invoke(key, func(l *lua.State) int {
				l.PushBoolean(checked)
				return 1
			})
		})
	case *ui.Input:
		el.OnValueChanged(func(value string) {
			s.invoke(key, func(l *lua.State) int {
				l.PushString(value)
				return 1
			})
		})
	}
}

// rebind wires restored elements so callbacks registered later with
// protoflow.on reach them.
func (s *scriptInstance) rebind() {
	for _, el := range s.inst.UI().Elements() {
		s.wire(el)
	}
}
