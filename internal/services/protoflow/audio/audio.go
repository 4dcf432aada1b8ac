// Package audio tracks the audio resources an instance asks connected
// clients to play. Playback happens on the clients; the runtime only issues
// commands and releases everything an instance owns when it closes.
package audio

import (
	"slices"

	"github.com/louisbranch/protoflow/internal/platform/id"
)

// Command is the wire verb sent to clients.
type Command string

const (
	CommandCreate  Command = "CreateAudio"
	CommandPlay    Command = "PlayAudio"
	CommandPause   Command = "PauseAudio"
	CommandStop    Command = "StopAudio"
	CommandDestroy Command = "DestroyAudio"
)

// Sink delivers audio commands. url is only set for CommandCreate.
type Sink interface {
	AudioCommand(cmd Command, audioID string, url string)
}

// State is the last command issued for a clip.
type State int

const (
	Stopped State = iota
	Playing
	Paused
	Released
)

// Audio is one clip created on the clients.
type Audio struct {
	id    string
	url   string
	state State
	set   *Set
}

func (a *Audio) ID() string   { return a.id }
func (a *Audio) URL() string  { return a.url }
func (a *Audio) State() State { return a.state }

func (a *Audio) Play()  { a.send(CommandPlay, Playing) }
func (a *Audio) Pause() { a.send(CommandPause, Paused) }
func (a *Audio) Stop()  { a.send(CommandStop, Stopped) }

// Release stops the clip, destroys it on the clients and forgets it.
func (a *Audio) Release() {
	if a.state == Released {
		return
	}
	if a.state != Stopped {
		a.Stop()
	}
	a.send(CommandDestroy, Released)
	a.set.forget(a)
}

func (a *Audio) send(cmd Command, next State) {
	if a.state == Released {
		return
	}
	a.state = next
	a.set.emit(cmd, a.id, "")
}

// Set owns the clips of one instance.
type Set struct {
	sink  Sink
	newID func() string
	clips []*Audio
}

// NewSet returns an empty set. A nil sink drops commands.
func NewSet(sink Sink, newID func() string) *Set {
	if newID == nil {
		newID = id.MustNewID
	}
	return &Set{sink: sink, newID: newID}
}

// Create registers a clip on the clients.
func (s *Set) Create(url string) *Audio {
	clip := &Audio{id: s.newID(), url: url, set: s}
	s.clips = append(s.clips, clip)
	s.emit(CommandCreate, clip.id, url)
	return clip
}

// Len returns the number of live clips.
func (s *Set) Len() int {
	return len(s.clips)
}

// ReleaseAll stops and destroys every clip.
func (s *Set) ReleaseAll() {
	for _, clip := range slices.Clone(s.clips) {
		clip.Release()
	}
}

func (s *Set) forget(a *Audio) {
	s.clips = slices.DeleteFunc(s.clips, func(c *Audio) bool { return c == a })
}

func (s *Set) emit(cmd Command, audioID, url string) {
	if s.sink != nil {
		s.sink.AudioCommand(cmd, audioID, url)
	}
}
