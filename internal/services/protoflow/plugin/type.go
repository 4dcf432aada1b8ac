// Package plugin holds the registration record for plugin types and the
// catalog that resolves them by name.
package plugin

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultDescription is used when a type declares none.
const DefaultDescription = "No description provided"

// Category separates singleton System types from multi-instance Protocols.
type Category int

const (
	CategorySystem Category = iota + 1
	CategoryProtocol
)

// String returns the wire name of the category.
func (c Category) String() string {
	switch c {
	case CategorySystem:
		return "System"
	case CategoryProtocol:
		return "Protocol"
	default:
		return "Unknown"
	}
}

// ParseCategory accepts the wire names, case-insensitively.
func ParseCategory(value string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "system":
		return CategorySystem, true
	case "protocol":
		return CategoryProtocol, true
	default:
		return 0, false
	}
}

// Factory returns fresh plugin state for a new instance. The value may
// implement any of the instance hook interfaces.
type Factory func() any

// Type is the registration record for one plugin type.
type Type struct {
	Name           string
	DisplayName    string
	Description    string
	Category       Category
	CanClientOpen  bool
	CanClientClose bool
	NotifyOnOpen   bool
	ShowOnClient   bool
	PersistUI      bool
	// APIVersion is a semver constraint on the host plugin API, e.g. "^1.0".
	APIVersion string
	New        Factory
}

// Option adjusts a Type built by NewType.
type Option func(*Type)

// NewType returns a record with the default policy: every client-facing flag
// on, PersistUI off, display name derived from name.
func NewType(name string, category Category, factory Factory, opts ...Option) Type {
	t := Type{
		Name:           strings.TrimSpace(name),
		Category:       category,
		CanClientOpen:  true,
		CanClientClose: true,
		NotifyOnOpen:   true,
		ShowOnClient:   true,
		New:            factory,
	}
	for _, opt := range opts {
		opt(&t)
	}
	t.normalize()
	return t
}

func WithDisplayName(name string) Option {
	return func(t *Type) { t.DisplayName = strings.TrimSpace(name) }
}

func WithDescription(description string) Option {
	return func(t *Type) { t.Description = strings.TrimSpace(description) }
}

func WithClientOpen(enabled bool) Option {
	return func(t *Type) { t.CanClientOpen = enabled }
}

func WithClientClose(enabled bool) Option {
	return func(t *Type) { t.CanClientClose = enabled }
}

func WithNotifyOnOpen(enabled bool) Option {
	return func(t *Type) { t.NotifyOnOpen = enabled }
}

func WithShowOnClient(enabled bool) Option {
	return func(t *Type) { t.ShowOnClient = enabled }
}

func WithPersistUI(enabled bool) Option {
	return func(t *Type) { t.PersistUI = enabled }
}

func WithAPIVersion(constraint string) Option {
	return func(t *Type) { t.APIVersion = strings.TrimSpace(constraint) }
}

func (t *Type) normalize() {
	if t.DisplayName == "" {
		t.DisplayName = Humanize(t.Name)
	}
	if t.Description == "" {
		t.Description = DefaultDescription
	}
}

var titleCaser = cases.Title(language.English, cases.NoLower)

// Humanize expands a type identifier into words: "FocusProtocol" becomes
// "Focus Protocol", "morning_routine" becomes "Morning Routine" and
// "HTTPBridge" becomes "HTTP Bridge".
func Humanize(name string) string {
	var words []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			words = append(words, string(current))
			current = current[:0]
		}
	}

	runes := []rune(strings.TrimSpace(name))
	for i, r := range runes {
		if r == '_' || r == '-' || unicode.IsSpace(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && len(current) > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		current = append(current, r)
	}
	flush()
	return titleCaser.String(strings.Join(words, " "))
}
