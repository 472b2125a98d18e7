package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/specmacro/internal/macro"
)

const (
	replPrompt     = "specmacro> "
	replContPrompt = "     ...> "
)

// NewREPLCommand creates the repl command.
func NewREPLCommand() *cobra.Command {
	var fromIndex bool

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Expand macros interactively",
		Long: `Start an interactive session. Every line is expanded against one shared
context, so %define and %undefine carry over between lines.

A line ending in a backslash continues on the next one.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runREPL(cmd, fromIndex)
		},
	}

	cmd.Flags().BoolVar(&fromIndex, "from-index", false, "Load macros from the definition index")
	return cmd
}

func runREPL(cmd *cobra.Command, fromIndex bool) error {
	cc, err := NewCommandContext(cmd, SetupOptions{FromIndex: fromIndex})
	if err != nil {
		return err
	}
	session := &replSession{cc: cc, out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     filepath.Join(filepath.Dir(cc.Cfg.StatePath), "repl_history"),
		AutoComplete:    newMacroCompleter(cc.Macros),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	_, _ = fmt.Fprintf(session.out, "specmacro REPL (%d macros loaded)\n", cc.Macros.Len())
	_, _ = fmt.Fprintln(session.out, "Type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(session.out)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			session.pending.Reset()
			rl.SetPrompt(replPrompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		if session.handle(cmd.Context(), line) {
			break
		}
		if session.pending.Len() > 0 {
			rl.SetPrompt(replContPrompt)
		} else {
			rl.SetPrompt(replPrompt)
		}
	}
	return nil
}

// replSession holds the state shared by the lines of one REPL.
type replSession struct {
	cc      *CommandContext
	out     io.Writer
	errOut  io.Writer
	pending strings.Builder
}

// handle processes one input line and reports whether the session ends.
func (s *replSession) handle(ctx context.Context, line string) bool {
	if cont, ok := strings.CutSuffix(line, `\`); ok {
		s.pending.WriteString(cont)
		s.pending.WriteByte('\n')
		return false
	}
	if s.pending.Len() > 0 {
		s.pending.WriteString(line)
		line = s.pending.String()
		s.pending.Reset()
	}

	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, ".") {
		return s.dotCommand(trimmed)
	}

	out, err := s.cc.Expand(ctx, nil, line)
	if err != nil {
		_, _ = fmt.Fprintf(s.errOut, "Error: %v\n", err)
		return false
	}
	_, _ = fmt.Fprintln(s.out, out)
	return false
}

func (s *replSession) dotCommand(line string) bool {
	command, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	mc := s.cc.Macros

	switch strings.ToLower(command) {
	case ".quit", ".exit":
		return true

	case ".help":
		printREPLHelp(s.out)

	case ".define":
		if rest == "" {
			_, _ = fmt.Fprintln(s.errOut, "Usage: .define NAME[(OPTS)] BODY")
			return false
		}
		if err := mc.DefineString(rest, macro.LevelGlobal); err != nil {
			_, _ = fmt.Fprintf(s.errOut, "Error: %v\n", err)
		}

	case ".undefine":
		if rest == "" {
			_, _ = fmt.Fprintln(s.errOut, "Usage: .undefine NAME")
			return false
		}
		mc.Undefine(rest)

	case ".dump":
		var names []string
		if rest != "" {
			names = strings.Fields(rest)
		}
		rows, err := dumpRows(mc, names, len(names) > 0, definitionSources(s.cc.Results))
		if err != nil {
			_, _ = fmt.Fprintf(s.errOut, "Error: %v\n", err)
			return false
		}
		if err := s.cc.Renderer.Definitions("Macros", rows, false); err != nil {
			_, _ = fmt.Fprintf(s.errOut, "Error: %v\n", err)
		}

	default:
		_, _ = fmt.Fprintf(s.errOut, "Unknown command: %s (type .help for commands)\n", command)
	}
	return false
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  .help                     Show this help message
  .define NAME[(OPTS)] BODY Define a global macro
  .undefine NAME            Pop the visible definition of NAME
  .dump [NAME...]           List macros, or every definition of NAME
  .quit / .exit             Exit the REPL

Tips:
  - Any other line is expanded and printed
  - End a line with \ to continue it on the next one
  - Tab completes dot-commands and %{ macro names
`
	_, _ = fmt.Fprintln(w, help)
}

// newMacroCompleter completes dot-commands and %{name references for the
// macros loaded at startup.
func newMacroCompleter(mc *macro.Context) *readline.PrefixCompleter {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem(".help"),
		readline.PcItem(".define"),
		readline.PcItem(".undefine"),
		readline.PcItem(".dump"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	}
	for _, e := range mc.Entries() {
		items = append(items, readline.PcItem("%{"+e.Name+"}"))
	}
	return readline.NewPrefixCompleter(items...)
}
