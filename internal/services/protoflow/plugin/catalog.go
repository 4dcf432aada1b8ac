package plugin

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/louisbranch/protoflow/internal/platform/errors"
)

// APIVersion is the version of the host API offered to plugins.
const APIVersion = "1.2.0"

var hostVersion = semver.MustParse(APIVersion)

// CheckAPIVersion reports whether the host API satisfies constraint. An
// empty constraint accepts any host.
func CheckAPIVersion(constraint string) error {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return errors.Wrap(errors.CodePluginLoad, fmt.Sprintf("invalid api version constraint %q", constraint), err)
	}
	if !c.Check(hostVersion) {
		return errors.New(errors.CodePluginLoad, fmt.Sprintf("host api %s does not satisfy %q", APIVersion, constraint))
	}
	return nil
}

// Catalog holds every registered plugin type in registration order.
type Catalog struct {
	mu    sync.RWMutex
	types map[string]Type
	order []string
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{types: make(map[string]Type)}
}

// Register validates and adds t. Failures carry CodePluginLoad.
func (c *Catalog) Register(t Type) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.New(errors.CodePluginLoad, "plugin type name is required")
	}
	if t.Category != CategorySystem && t.Category != CategoryProtocol {
		return errors.New(errors.CodePluginLoad, fmt.Sprintf("plugin type %s has no category", t.Name))
	}
	if t.New == nil {
		return errors.New(errors.CodePluginLoad, fmt.Sprintf("plugin type %s has no constructor", t.Name))
	}
	if err := CheckAPIVersion(t.APIVersion); err != nil {
		return errors.Wrap(errors.CodePluginLoad, fmt.Sprintf("plugin type %s", t.Name), err)
	}
	t.normalize()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.types[t.Name]; ok {
		return errors.New(errors.CodePluginLoad, fmt.Sprintf("plugin type %s already registered", t.Name))
	}
	c.types[t.Name] = t
	c.order = append(c.order, t.Name)
	return nil
}

// Lookup returns the type registered under name.
func (c *Catalog) Lookup(name string) (Type, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[strings.TrimSpace(name)]
	return t, ok
}

// LookupDisplayName finds a type by its display name, case-insensitively.
func (c *Catalog) LookupDisplayName(name string) (Type, bool) {
	name = strings.TrimSpace(name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, key := range c.order {
		if t := c.types[key]; strings.EqualFold(t.DisplayName, name) {
			return t, true
		}
	}
	return Type{}, false
}

// Types returns every type in registration order.
func (c *Catalog) Types() []Type {
	return c.filter(func(Type) bool { return true })
}

// Systems returns the System types.
func (c *Catalog) Systems() []Type {
	return c.filter(func(t Type) bool { return t.Category == CategorySystem })
}

// OpenableProtocols returns the Protocol types a client may open.
func (c *Catalog) OpenableProtocols() []Type {
	return c.filter(func(t Type) bool { return t.Category == CategoryProtocol && t.CanClientOpen })
}

// Len returns the number of registered types.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

func (c *Catalog) filter(keep func(Type) bool) []Type {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Type, 0, len(c.order))
	for _, key := range c.order {
		if t := c.types[key]; keep(t) {
			out = append(out, t)
		}
	}
	return out
}
