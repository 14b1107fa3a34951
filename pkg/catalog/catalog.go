package catalog

import (
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// Entry is a tool descriptor bound to the provider connection that serves it.
type Entry struct {
	Descriptor
	Invoker Invoker
}

// Source is the contribution of one provider to a catalog.
type Source struct {
	Provider string
	Invoker  Invoker
	Tools    []Descriptor
}

// Catalog is an immutable snapshot of the available tools. The zero value
// and nil are both valid empty catalogs.
type Catalog struct {
	providers map[string]Invoker
	entries   map[string]Entry
	ids       []string
}

// Empty returns a catalog with no providers.
func Empty() *Catalog {
	return &Catalog{
		providers: map[string]Invoker{},
		entries:   map[string]Entry{},
	}
}

// Build assembles a snapshot from the given sources. A provider that
// appears twice keeps its first contribution. Tool descriptors are copied
// with the owning provider's name so IDs always match the source.
func Build(sources []Source) *Catalog {
	c := Empty()
	for _, src := range sources {
		if _, dup := c.providers[src.Provider]; dup {
			continue
		}
		c.providers[src.Provider] = src.Invoker
		for _, tool := range src.Tools {
			tool.Provider = src.Provider
			id := tool.ID()
			if !routable(tool) {
				log.Warn().
					Str("provider", src.Provider).
					Str("tool", tool.Name).
					Msg("Skipping tool whose id cannot be routed back to its provider")
				continue
			}
			if _, exists := c.entries[id]; exists {
				continue
			}
			c.entries[id] = Entry{Descriptor: tool, Invoker: src.Invoker}
			c.ids = append(c.ids, id)
		}
	}
	sort.Strings(c.ids)
	return c
}

// routable reports whether the tool's ID splits back into its own provider
// and tool name. A local name starting with "_" is rejected as well, since
// "a" + "_ping" and "a_" + "ping" would share one ID.
func routable(d Descriptor) bool {
	if strings.HasPrefix(d.Name, "_") {
		return false
	}
	p, t, err := SplitID(d.ID())
	return err == nil && p == d.Provider && t == d.Name
}

// Lookup returns the entry for a namespaced tool ID.
func (c *Catalog) Lookup(id string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	e, ok := c.entries[id]
	return e, ok
}

// Provider returns the invoker of a provider present in the snapshot,
// including providers that currently expose no tools.
func (c *Catalog) Provider(name string) (Invoker, bool) {
	if c == nil {
		return nil, false
	}
	inv, ok := c.providers[name]
	return inv, ok
}

// Tools returns every descriptor ordered by ID.
func (c *Catalog) Tools() []Descriptor {
	if c == nil {
		return nil
	}
	out := make([]Descriptor, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.entries[id].Descriptor)
	}
	return out
}

// Providers returns the provider names in the snapshot, sorted.
func (c *Catalog) Providers() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.providers))
	for name := range c.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByProvider groups descriptors by provider name.
func (c *Catalog) ByProvider() map[string][]Descriptor {
	out := make(map[string][]Descriptor)
	if c == nil {
		return out
	}
	for name := range c.providers {
		out[name] = nil
	}
	for _, id := range c.ids {
		d := c.entries[id].Descriptor
		out[d.Provider] = append(out[d.Provider], d)
	}
	return out
}

// Len returns the number of tools.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.ids)
}
