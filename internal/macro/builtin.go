package macro

// Builtin identifies a reserved macro name handled by the engine itself.
type Builtin int

// Builtin values. BuiltinNone means the name is not reserved.
const (
	BuiltinNone Builtin = iota
	BuiltinGlobal
	BuiltinDefine
	BuiltinUndefine
	BuiltinEcho
	BuiltinWarn
	BuiltinError
	BuiltinTrace
	BuiltinDump
	BuiltinBasename
	BuiltinSuffix
	BuiltinExpand
	BuiltinVerbose
	BuiltinURL2Path
	BuiltinUncompress
	BuiltinSource
	BuiltinPatch
	BuiltinFile
	BuiltinStarlark
)

var builtinNames = map[string]Builtin{
	"global":     BuiltinGlobal,
	"define":     BuiltinDefine,
	"undefine":   BuiltinUndefine,
	"echo":       BuiltinEcho,
	"warn":       BuiltinWarn,
	"error":      BuiltinError,
	"trace":      BuiltinTrace,
	"dump":       BuiltinDump,
	"basename":   BuiltinBasename,
	"suffix":     BuiltinSuffix,
	"expand":     BuiltinExpand,
	"verbose":    BuiltinVerbose,
	"url2path":   BuiltinURL2Path,
	"u2p":        BuiltinURL2Path,
	"uncompress": BuiltinUncompress,
	"S":          BuiltinSource,
	"P":          BuiltinPatch,
	"F":          BuiltinFile,
	"starlark":   BuiltinStarlark,
}

// LookupBuiltin returns the built-in reserved under name, or BuiltinNone.
func LookupBuiltin(name string) Builtin {
	return builtinNames[name]
}

// IsBuiltin reports whether name is reserved.
func IsBuiltin(name string) bool {
	return LookupBuiltin(name) != BuiltinNone
}

// BuiltinNames returns every reserved name, including aliases.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtinNames))
	for n := range builtinNames {
		names = append(names, n)
	}
	return names
}

func (b Builtin) String() string {
	switch b {
	case BuiltinGlobal:
		return "global"
	case BuiltinDefine:
		return "define"
	case BuiltinUndefine:
		return "undefine"
	case BuiltinEcho:
		return "echo"
	case BuiltinWarn:
		return "warn"
	case BuiltinError:
		return "error"
	case BuiltinTrace:
		return "trace"
	case BuiltinDump:
		return "dump"
	case BuiltinBasename:
		return "basename"
	case BuiltinSuffix:
		return "suffix"
	case BuiltinExpand:
		return "expand"
	case BuiltinVerbose:
		return "verbose"
	case BuiltinURL2Path:
		return "url2path"
	case BuiltinUncompress:
		return "uncompress"
	case BuiltinSource:
		return "S"
	case BuiltinPatch:
		return "P"
	case BuiltinFile:
		return "F"
	case BuiltinStarlark:
		return "starlark"
	default:
		return "none"
	}
}

// transforms reports whether b is one of the operators that expand their
// argument, rewrite it and feed the result back through the engine.
func (b Builtin) transforms() bool {
	switch b {
	case BuiltinBasename, BuiltinSuffix, BuiltinExpand, BuiltinVerbose,
		BuiltinURL2Path, BuiltinUncompress, BuiltinSource, BuiltinPatch, BuiltinFile:
		return true
	}
	return false
}
