package commands

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// ExpandOptions holds options for the expand command.
type ExpandOptions struct {
	Files     []string
	FromIndex bool
	NoMacros  bool
	Jobs      int
}

// NewExpandCommand creates the expand command.
func NewExpandCommand() *cobra.Command {
	opts := &ExpandOptions{}

	cmd := &cobra.Command{
		Use:     "expand [TEXT...]",
		Aliases: []string{"eval"},
		Short:   "Expand macros in text",
		Long: `Expand macros in text given as arguments, read from files, or read from stdin.

Arguments are joined with spaces and expanded as one text, followed by a
newline. Each --file is expanded on its own copy of the loaded macros, so
definitions made by one file are not seen by another; files run
concurrently and are printed in the order given. Without arguments or
files, stdin is expanded.`,
		Example: `  # Expand a single expression
  specmacro expand '%{?dist:%{dist}}'

  # Override a definition
  specmacro expand -D 'dist .el9' '%{name}-%{version}%{dist}'

  # Expand several files concurrently
  specmacro expand -f a.spec -f b.spec

  # Use the definition index instead of the macro path
  specmacro expand --from-index '%_libdir'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExpand(cmd, args, opts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Files, "file", "f", nil, "Expand the contents of a file (repeatable, - for stdin)")
	cmd.Flags().BoolVar(&opts.FromIndex, "from-index", false, "Load macros from the definition index")
	cmd.Flags().BoolVar(&opts.NoMacros, "no-macros", false, "Do not read the macro path")
	cmd.Flags().IntVarP(&opts.Jobs, "jobs", "j", 0, "Files expanded at once (default: number of CPUs)")

	return cmd
}

func runExpand(cmd *cobra.Command, args []string, opts *ExpandOptions) error {
	if len(args) > 0 && len(opts.Files) > 0 {
		return fmt.Errorf("cannot combine TEXT arguments with --file")
	}

	cc, err := NewCommandContext(cmd, SetupOptions{FromIndex: opts.FromIndex, NoMacros: opts.NoMacros})
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	switch {
	case len(args) > 0:
		out, err := cc.Expand(cmd.Context(), nil, strings.Join(args, " "))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, out)
		return err

	case len(opts.Files) > 0:
		outs, err := expandFiles(cmd, cc, opts.Files, opts.Jobs)
		if err != nil {
			return err
		}
		for _, out := range outs {
			if _, err := io.WriteString(w, out); err != nil {
				return err
			}
		}
		return nil

	default:
		text, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		out, err := cc.Expand(cmd.Context(), nil, string(text))
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	}
}

// expandFiles expands each file against its own clone of the loaded
// macros. The first failure cancels the rest.
func expandFiles(cmd *cobra.Command, cc *CommandContext, files []string, jobs int) ([]string, error) {
	texts := make([]string, len(files))
	for i, f := range files {
		text, err := readInput(cmd, f)
		if err != nil {
			return nil, err
		}
		texts[i] = text
	}

	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(jobs)

	outs := make([]string, len(files))
	for i := range files {
		mc := cc.Macros.Clone()
		g.Go(func() error {
			out, err := cc.Expand(ctx, mc, texts[i])
			if err != nil {
				return fmt.Errorf("%s: %w", files[i], err)
			}
			outs[i] = out
			cc.Logger.Debug("expanded file", "file", files[i], "bytes", len(out))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outs, nil
}

func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(path) //nolint:gosec // G304: path is a user-supplied input file
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(b), nil
}
