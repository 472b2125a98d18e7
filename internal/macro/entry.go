package macro

// Entry is a single macro definition. Several entries may share a name;
// the most recently defined one is visible and the rest are shadowed.
type Entry struct {
	Name string
	// Opts is the getopt-style parameter specification ("ab:"). It is only
	// meaningful when Parameterized is set; an empty Opts on a
	// parameterized macro accepts positional arguments but no options.
	Opts          string
	Parameterized bool
	Body          string
	Level         Level
	// Used counts successful expansions. Diagnostic only.
	Used int
}

// Definition is a name/opts/body triple handed to Load by file and
// command-line loaders.
type Definition struct {
	Name          string
	Opts          string
	Parameterized bool
	Body          string
}

// Signature renders the entry the way it would be written in a macro file,
// without the body.
func (e Entry) Signature() string {
	if e.Parameterized {
		return e.Name + "(" + e.Opts + ")"
	}
	return e.Name
}

// definition strips the bookkeeping fields.
func (e Entry) definition() Definition {
	return Definition{
		Name:          e.Name,
		Opts:          e.Opts,
		Parameterized: e.Parameterized,
		Body:          e.Body,
	}
}
