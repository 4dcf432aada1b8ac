package builtin

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/louisbranch/protoflow/internal/services/protoflow/audio"
	"github.com/louisbranch/protoflow/internal/services/protoflow/instance"
	"github.com/louisbranch/protoflow/internal/services/protoflow/ui"
)

// FocusSoundtrack plays while a focus session runs.
const FocusSoundtrack = "https://audiohosting.netlify.app/WintergatanLive.mp3"

// FocusProtocol asks for a goal and a duration, then counts down with music
// and closes itself when time is up.
type FocusProtocol struct {
	goalInput    *ui.Input
	minutesInput *ui.Input
	start        *ui.Button

	goal      *ui.Heading
	remaining *ui.Heading
	music     *audio.Audio

	duration time.Duration
	deadline time.Time
	focusing bool
}

func (f *FocusProtocol) OnOpen(inst *instance.Instance) error {
	f.goalInput = ui.NewInput(ui.InputText, "Session goal")
	f.minutesInput = ui.NewInput(ui.InputNumber, "Focus minutes")
	f.start = ui.NewButton("Start focus")
	f.start.OnClick(func() { f.begin(inst) })
	return inst.UI().Append(f.goalInput, f.minutesInput, f.start)
}

func (f *FocusProtocol) begin(inst *instance.Instance) {
	minutes, err := strconv.Atoi(strings.TrimSpace(f.minutesInput.Text()))
	if err != nil || minutes <= 0 || f.focusing {
		return
	}
	f.music = inst.Audio().Create(FocusSoundtrack)
	f.music.Play()

	f.focusing = true
	f.duration = time.Duration(minutes) * time.Minute
	f.deadline = time.Time{}

	f.goal = ui.NewHeading(f.goalInput.Text(), 2)
	f.remaining = ui.NewHeading(formatRemaining(f.duration), 3)
	tree := inst.UI()
	tree.Clear()
	_ = tree.Append(f.goal, f.remaining)
}

// OnTick starts the countdown on the first tick after the session begins,
// so the deadline follows the run loop clock.
func (f *FocusProtocol) OnTick(inst *instance.Instance, now time.Time) {
	if !f.focusing {
		return
	}
	if f.deadline.IsZero() {
		f.deadline = now.Add(f.duration)
	}
	left := f.deadline.Sub(now)
	if left > 0 {
		if text := formatRemaining(left); text != f.remaining.Text() {
			f.remaining.SetText(text)
		}
		return
	}
	f.focusing = false
	f.remaining.SetText(formatRemaining(0))
	inst.Notify("Focus session ended", f.goal.Text())
	_ = inst.Close()
}

// Focusing reports whether a countdown is running.
func (f *FocusProtocol) Focusing() bool { return f.focusing }

// formatRemaining renders d as HH:MM:SS, rounding partial seconds up.
func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}
