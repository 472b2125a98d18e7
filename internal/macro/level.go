package macro

// Level records where a definition came from. Lower levels are more
// general; argument bindings and %define entries made while expanding use
// the current recursion depth, which is always positive.
type Level int

// Definition levels for the standard sources, most general first.
const (
	LevelDefault    Level = -15 // compiled-in defaults
	LevelMacroFiles Level = -13 // loaded from macro files
	LevelRPMRC      Level = -11 // derived from runtime configuration
	LevelCmdline    Level = -7  // --define on the command line
	LevelTarball    Level = -5  // extracted from a source archive
	LevelSpec       Level = -3  // defined by the spec being processed
	LevelOldSpec    Level = -1  // legacy spec tags
	LevelGlobal     Level = 0   // %global
)

func (l Level) String() string {
	switch l {
	case LevelDefault:
		return "default"
	case LevelMacroFiles:
		return "macrofiles"
	case LevelRPMRC:
		return "rpmrc"
	case LevelCmdline:
		return "cmdline"
	case LevelTarball:
		return "tarball"
	case LevelSpec:
		return "spec"
	case LevelOldSpec:
		return "oldspec"
	case LevelGlobal:
		return "global"
	default:
		if l > LevelGlobal {
			return "local"
		}
		return "custom"
	}
}
