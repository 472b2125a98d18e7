// Package macro implements the text macro language used to expand build
// recipes, configuration paths and conditional directives.
//
// A Context holds the macro table. Each name maps to a shadow chain of
// definitions stored as index-linked entries in a single arena, so the
// ephemeral bindings created for one parameterized call can be dropped by
// truncating the arena once the call returns. An Expander walks text,
// dispatches built-ins, binds arguments and recurses into macro bodies.
//
// A Context is not safe for concurrent use. Callers that share one across
// goroutines must serialize access themselves, or hand each goroutine its
// own Clone.
package macro

import (
	"fmt"
	"io"
	"slices"
	"strings"
)

// Context is an owned, name-sorted macro table with shadow chains.
type Context struct {
	name  string
	heads []head  // sorted by name
	arena []entry // all definitions, newest last
	next  uint64  // serial for the next entry
}

// head is the visible end of one shadow chain.
type head struct {
	name string
	top  int // index into arena
}

type entry struct {
	Entry
	prev   int // previous definition of the same name, -1 if none
	serial uint64
	live   bool
}

// handle identifies an arena entry across mutations that may reuse the
// slot after it is popped.
type handle struct {
	idx    int
	serial uint64
}

// NewContext creates an empty context. The name is only used in diagnostics.
func NewContext(name string) *Context {
	return &Context{name: name}
}

// Name returns the context name.
func (c *Context) Name() string { return c.name }

// Len returns the number of distinct visible names.
func (c *Context) Len() int { return len(c.heads) }

// search returns the position of name in heads and whether it is present.
func (c *Context) search(name string) (int, bool) {
	return slices.BinarySearchFunc(c.heads, name, func(h head, n string) int {
		return strings.Compare(h.name, n)
	})
}

// Define pushes a plain (non-parameterized) definition.
func (c *Context) Define(name, body string, level Level) {
	c.push(Definition{Name: name, Body: body}, level)
}

// DefineOpts pushes a parameterized definition with the given option
// specification.
func (c *Context) DefineOpts(name, opts, body string, level Level) {
	c.push(Definition{Name: name, Opts: opts, Parameterized: true, Body: body}, level)
}

// push adds a definition on top of the name's chain, creating the chain
// (and keeping heads sorted) when the name is new.
func (c *Context) push(d Definition, level Level) handle {
	c.next++
	e := entry{
		Entry: Entry{
			Name:          d.Name,
			Opts:          d.Opts,
			Parameterized: d.Parameterized,
			Body:          d.Body,
			Level:         level,
		},
		prev:   -1,
		serial: c.next,
		live:   true,
	}
	idx := len(c.arena)

	pos, found := c.search(d.Name)
	if found {
		e.prev = c.heads[pos].top
		c.arena = append(c.arena, e)
		c.heads[pos].top = idx
	} else {
		c.arena = append(c.arena, e)
		c.heads = slices.Insert(c.heads, pos, head{name: d.Name, top: idx})
	}
	return handle{idx: idx, serial: e.serial}
}

// Undefine pops the visible definition of name. The name disappears when
// its last definition is popped. Unknown names are ignored.
func (c *Context) Undefine(name string) {
	pos, found := c.search(name)
	if !found {
		return
	}
	c.popAt(pos)
	c.compact()
}

// popAt pops the top of the chain at heads[pos]. It reports whether the
// chain became empty and was removed.
func (c *Context) popAt(pos int) bool {
	top := c.heads[pos].top
	c.arena[top].live = false
	prev := c.arena[top].prev
	if prev < 0 {
		c.heads = slices.Delete(c.heads, pos, pos+1)
		return true
	}
	c.heads[pos].top = prev
	return false
}

// compact truncates dead entries from the end of the arena.
func (c *Context) compact() {
	n := len(c.arena)
	for n > 0 && !c.arena[n-1].live {
		n--
	}
	clear(c.arena[n:])
	c.arena = c.arena[:n]
}

// Lookup returns the visible definition of name.
func (c *Context) Lookup(name string) (Entry, bool) {
	h, ok := c.find(name)
	if !ok {
		return Entry{}, false
	}
	return c.arena[h.idx].Entry, true
}

// find returns a handle to the visible definition of name.
func (c *Context) find(name string) (handle, bool) {
	pos, found := c.search(name)
	if !found {
		return handle{}, false
	}
	top := c.heads[pos].top
	return handle{idx: top, serial: c.arena[top].serial}, true
}

// entryAt resolves a handle. It fails if the entry was popped since the
// handle was taken.
func (c *Context) entryAt(h handle) (*Entry, bool) {
	if h.idx < 0 || h.idx >= len(c.arena) {
		return nil, false
	}
	e := &c.arena[h.idx]
	if !e.live || e.serial != h.serial {
		return nil, false
	}
	return &e.Entry, true
}

// markUsed increments the use counter of the entry behind h, if it still
// exists.
func (c *Context) markUsed(h handle) {
	if e, ok := c.entryAt(h); ok {
		e.Used++
	}
}

// serial returns the serial of the most recent push. Entries pushed later
// compare greater.
func (c *Context) serial() uint64 { return c.next }

// popScope removes, from the top of each chain, every definition made at
// level or above whose serial is greater than after. It drops the bindings
// of a parameterized call, which live at the caller's recursion depth,
// together with any %define made while expanding its body.
func (c *Context) popScope(level Level, after uint64) int {
	popped := 0
	for pos := 0; pos < len(c.heads); {
		removed := false
		for {
			top := &c.arena[c.heads[pos].top]
			if top.Level < level || top.serial <= after {
				break
			}
			popped++
			if c.popAt(pos) {
				removed = true
				break
			}
		}
		if !removed {
			pos++
		}
	}
	c.compact()
	return popped
}

// Load defines each pair in order at the given level.
func (c *Context) Load(level Level, defs []Definition) {
	for _, d := range defs {
		c.push(d, level)
	}
}

// LoadFrom copies every visible definition of src into c at level. It is
// used to replay command-line overrides on top of freshly loaded files.
func (c *Context) LoadFrom(src *Context, level Level) {
	if src == nil || src == c {
		return
	}
	for _, e := range src.Entries() {
		c.push(e.definition(), level)
	}
}

// Entries returns a snapshot of the visible definitions in name order.
func (c *Context) Entries() []Entry {
	out := make([]Entry, 0, len(c.heads))
	for _, h := range c.heads {
		out = append(out, c.arena[h.top].Entry)
	}
	return out
}

// Chain returns every live definition of name, visible one first.
func (c *Context) Chain(name string) []Entry {
	pos, found := c.search(name)
	if !found {
		return nil
	}
	var out []Entry
	for i := c.heads[pos].top; i >= 0; i = c.arena[i].prev {
		out = append(out, c.arena[i].Entry)
	}
	return out
}

// Clone returns an independent copy of the context.
func (c *Context) Clone() *Context {
	return &Context{
		name:  c.name,
		heads: slices.Clone(c.heads),
		arena: slices.Clone(c.arena),
		next:  c.next,
	}
}

// Reset drops every definition.
func (c *Context) Reset() {
	c.heads = nil
	c.arena = nil
}

// Dump writes a listing of the visible definitions to w. A '=' after the
// level marks macros that have been expanded at least once.
func (c *Context) Dump(w io.Writer) error {
	var b strings.Builder
	b.WriteString("========================\n")
	empty := 0
	for _, h := range c.heads {
		e := c.arena[h.top]
		if e.Body == "" {
			empty++
		}
		used := ':'
		if e.Used > 0 {
			used = '='
		}
		fmt.Fprintf(&b, "%3d%c %s", e.Level, used, e.Name)
		if e.Opts != "" {
			fmt.Fprintf(&b, "(%s)", e.Opts)
		}
		if e.Body != "" {
			fmt.Fprintf(&b, "\t%s", e.Body)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "======================== active %d empty %d\n", len(c.heads), empty)
	_, err := io.WriteString(w, b.String())
	return err
}
