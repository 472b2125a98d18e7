package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

const defaultDebounce = 100 * time.Millisecond

// WatchOptions holds options for the watch command.
type WatchOptions struct {
	Clear    bool
	Debounce time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	opts := &WatchOptions{}

	cmd := &cobra.Command{
		Use:   "watch FILE",
		Short: "Re-expand a file whenever it changes",
		Long: `Expand FILE, then expand it again each time it is saved. Saving one of
the macro files also reloads the macros before expanding.

Expansion errors are reported and watching continues. Press Ctrl+C to stop.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runWatch(ctx, cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Clear, "clear", false, "Clear the screen before each expansion")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", defaultDebounce, "Wait this long after the last change")

	return cmd
}

// fileWatcher re-expands one file. All fields are owned by the loop
// goroutine.
type fileWatcher struct {
	cmd      *cobra.Command
	cc       *CommandContext
	file     string
	opts     *WatchOptions
	out      io.Writer
	errOut   io.Writer
	macroSet map[string]bool
}

func runWatch(ctx context.Context, cmd *cobra.Command, file string, opts *WatchOptions) error {
	abs, err := filepath.Abs(file)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("cannot watch %s: %w", file, err)
	}

	fw := &fileWatcher{
		cmd:    cmd,
		file:   abs,
		opts:   opts,
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
	}
	if err := fw.reload(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Directories are watched so editors that replace the file on save
	// are still seen.
	dirs := map[string]bool{filepath.Dir(abs): true}
	for f := range fw.macroSet {
		dirs[filepath.Dir(f)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			fw.cc.Logger.Warn("cannot watch directory", "dir", dir, "error", err)
		}
	}

	fw.render()
	_, _ = fmt.Fprintf(fw.errOut, "Watching %s (Ctrl+C to stop)\n", file)
	return fw.loop(ctx, watcher)
}

// reload rebuilds the command context, rereading the macro path.
func (fw *fileWatcher) reload() error {
	cc, err := NewCommandContext(fw.cmd, SetupOptions{})
	if err != nil {
		return err
	}
	fw.cc = cc
	fw.macroSet = make(map[string]bool)
	for _, res := range cc.Results {
		if res.Found {
			if abs, err := filepath.Abs(res.File); err == nil {
				fw.macroSet[abs] = true
			}
		}
	}
	return nil
}

func (fw *fileWatcher) loop(ctx context.Context, watcher *fsnotify.Watcher) error {
	debounce := fw.opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	reloadMacros := false

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := filepath.Clean(event.Name)
			isMacro := fw.macroSet[name]
			if name != fw.file && !isMacro {
				continue
			}
			if isMacro {
				reloadMacros = true
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			if reloadMacros {
				reloadMacros = false
				if err := fw.reload(); err != nil {
					_, _ = fmt.Fprintf(fw.errOut, "Error: %v\n", err)
					continue
				}
			}
			fw.render()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fw.cc.Logger.Warn("watch error", "error", err)
		}
	}
}

// render expands the file against a fresh copy of the macros.
func (fw *fileWatcher) render() {
	if fw.opts.Clear {
		_, _ = fmt.Fprint(fw.out, "\033[H\033[2J")
	}
	text, err := os.ReadFile(fw.file)
	if err != nil {
		_, _ = fmt.Fprintf(fw.errOut, "Error: %v\n", err)
		return
	}
	out, err := fw.cc.Expand(fw.cmd.Context(), fw.cc.Macros.Clone(), string(text))
	if err != nil {
		_, _ = fmt.Fprintf(fw.errOut, "Error: %v\n", err)
		return
	}
	_, _ = io.WriteString(fw.out, out)
	fw.cc.Logger.Debug("expanded watched file", "file", fw.file, "bytes", len(out))
}
