package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/specmacro/internal/macro"
	"github.com/leapstack-labs/specmacro/internal/macrofile"
	"github.com/leapstack-labs/specmacro/internal/server"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Addr       string
	NoWatch    bool
	FromIndex  bool
	AllowShell bool
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve macros over HTTP",
		Long: `Start an HTTP server for the loaded macros.

JSON API:
  GET    /api/macros          visible definitions
  GET    /api/macros/{name}   shadow chain of one macro
  POST   /api/expand          {"text": "...", "defines": {"name": "body"}}
  GET    /api/graph           reference graph
  GET    /api/session         definitions kept in this client's session
  POST   /api/session/define  {"definition": "name body"}
  DELETE /api/session         drop the session definitions

Datastar playground:
  POST   /playground/expand   expand the "text" signal
  GET    /playground/updates  current revision, pushed again on reload

Every request expands on its own copy of the context. The macro files are
watched and reloaded on change unless --no-watch or --from-index is given.

Shell escapes %(...) fail unless --allow-shell is given, since anyone who
can reach the address could otherwise run commands as this user. Only
application/json bodies are accepted, and POST or DELETE requests from
pages of another origin are rejected.`,
		Example: `  # Serve on the configured address (serve_addr)
  specmacro serve

  # Expand through the API
  curl -s localhost:8765/api/expand -H 'Content-Type: application/json' \
    -d '{"text": "%{_bindir}"}'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "Listen address (default serve_addr)")
	cmd.Flags().BoolVar(&opts.NoWatch, "no-watch", false, "Do not reload when macro files change")
	cmd.Flags().BoolVar(&opts.FromIndex, "from-index", false, "Load macros from the definition index")
	cmd.Flags().BoolVar(&opts.AllowShell, "allow-shell", false, "Let requests run %(...) shell escapes")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts *ServeOptions) error {
	cc := NewCommandContextWithoutMacros(cmd)
	cli, err := commandLineContext(cmd, cc.Cfg)
	if err != nil {
		return err
	}
	exp, err := newExpander(cmd, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}

	load := func() (*macro.Context, []string, error) {
		mc := macro.NewContext("global")
		if opts.FromIndex {
			if _, err := loadFromIndex(ctx, cc.Cfg.StatePath, mc, cli, cc.Logger); err != nil {
				return nil, nil, err
			}
			return mc, nil, nil
		}
		var files []string
		for _, res := range macrofile.NewLoader(cc.Logger).Load(mc, cli, cc.Cfg.MacroPathList()) {
			if res.Found {
				files = append(files, res.File)
			}
		}
		return mc, files, nil
	}

	addr := opts.Addr
	if addr == "" {
		addr = cc.Cfg.ServeAddr
	}

	srv, err := server.New(server.Config{
		Addr:          addr,
		Load:          load,
		Expander:      exp,
		Watch:         !opts.NoWatch && !opts.FromIndex,
		AllowShell:    opts.AllowShell,
		Timeout:       cc.Cfg.Timeout,
		SessionSecret: cc.Cfg.SessionSecret,
		Logger:        cc.Logger,
	})
	if err != nil {
		return err
	}

	return srv.Serve(ctx, func(bound string) {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Serving macros on http://%s (Ctrl+C to stop)\n", bound)
	})
}
