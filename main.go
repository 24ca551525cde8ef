package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/metcalfc/folio/internal/config"
	"github.com/metcalfc/folio/internal/env"
	"github.com/metcalfc/folio/internal/state"
)

// Version info (injected via ldflags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// initializeAppContext prepares application context before command execution but
// after command line has been parsed
func initializeAppContext(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	var err error

	if cmd.NArg() == 0 {
		// nothing to do, just return
		return ctx, nil
	}

	e := env.EnvFromContext(ctx)

	configFile := cmd.String("config")
	if e.Cfg, err = config.LoadConfiguration(configFile); err != nil {
		return ctx, fmt.Errorf("unable to prepare configuration: %w", err)
	}
	if cmd.Bool("debug") {
		e.Cfg.Logging.ConsoleLogger.Level = "debug"
	}
	if e.Log, err = e.Cfg.Logging.Prepare(); err != nil {
		return ctx, fmt.Errorf("unable to prepare logs: %w", err)
	}
	e.RedirectStdLog()

	e.Log.Debug("Program started", zap.Strings("args", os.Args), zap.String("ver", version), zap.String("runtime", runtime.Version()), zap.String("commit", commit))
	if len(configFile) == 0 {
		e.Log.Debug("Using defaults (no configuration file)")
	}
	return ctx, nil
}

func destroyAppContext(ctx context.Context, cmd *cli.Command) (err error) {
	e := env.EnvFromContext(ctx)

	if er := e.CloseLibrary(); er != nil {
		err = multierr.Append(err, fmt.Errorf("unable to close library: %w", er))
	}
	if e.Log != nil {
		e.Log.Debug("Program ended", zap.Duration("elapsed", e.Uptime()), zap.Strings("parsed args", cmd.Args().Slice()))
	}

	// close logging
	e.RestoreStdLog()

	// remove empty panic file if any
	if e.Cfg != nil && e.Cfg.Logging.FileLogger.Level != "none" {
		debug.SetCrashOutput(nil, debug.CrashOptions{})
		fname := config.PanicLogPath(e.Cfg.Logging.FileLogger.Destination)
		if fi, er := os.Stat(fname); er == nil && fi.Size() == 0 {
			if er := os.Remove(fname); er != nil {
				err = multierr.Append(err, fmt.Errorf("unable to remove empty panic log file '%s': %w", fname, er))
			}
		}
	}
	return
}

// Subcommands return regular errors, they are logged once here.
var errWasHandled bool

// this is called before appContext is destroyed, so we have a chance to
// properly log any error from subcommand
func exitErrHandler(ctx context.Context, _ *cli.Command, err error) {
	e := env.EnvFromContext(ctx)

	if e.Log != nil {
		e.Log.Error("Program ended with error", zap.Error(err))
		errWasHandled = true
	}
}

func usageErrorHandler(_ context.Context, _ *cli.Command, err error, _ bool) error {
	// do nothing special, error is reported either by exitErrHandler or on
	// exit directly to stderr.
	return err
}

func subcommandNotFoundHandler(ctx context.Context, _ *cli.Command, name string) {
	env.EnvFromContext(ctx).Log.Warn("Unknown command, nothing to do", zap.String("command", name))
}

// withLibrary opens the catalog before running action.
func withLibrary(action cli.ActionFunc) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		if err := env.EnvFromContext(ctx).OpenLibrary(); err != nil {
			return fmt.Errorf("unable to open library: %w", err)
		}
		return action(ctx, cmd)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:            config.AppName,
		Usage:           "paginated EPUB reader",
		Version:         version + " (" + runtime.Version() + ") : " + commit + " " + date,
		HideHelpCommand: true,
		Before:          initializeAppContext,
		After:           destroyAppContext,
		OnUsageError:    usageErrorHandler,
		ExitErrHandler:  exitErrHandler,
		CommandNotFound: subcommandNotFoundHandler,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, DefaultText: "", Usage: "load configuration from `FILE` (YAML)"},
			&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "log debug messages to console"},
		},
		Commands: []*cli.Command{
			{
				Name:         "import",
				Usage:        "Copies EPUB file(s) into the library",
				ArgsUsage:    "FILE...",
				OnUsageError: usageErrorHandler,
				Action:       withLibrary(importBooks),
			},
			{
				Name:         "list",
				Usage:        "Lists books with their reading progress",
				OnUsageError: usageErrorHandler,
				Action:       withLibrary(listBooks),
			},
			{
				Name:         "remove",
				Usage:        "Removes book(s) and their saved positions",
				ArgsUsage:    "ID...",
				OnUsageError: usageErrorHandler,
				Action:       withLibrary(removeBooks),
			},
			{
				Name:         "theme",
				Usage:        "Shows or sets the reading theme",
				ArgsUsage:    "[light|dark|toggle]",
				OnUsageError: usageErrorHandler,
				Action:       withLibrary(setTheme),
			},
			{
				Name:         "read",
				Usage:        "Opens a book at its saved position",
				ArgsUsage:    "ID",
				OnUsageError: usageErrorHandler,
				Action:       readBook,
				CustomHelpTemplate: fmt.Sprintf(`%s
KEYS:
    ←/h/j  previous page      →/l/k  next page
    t      outline            f      links on the page
    d      toggle theme       q      quit (saves the position)
`, cli.CommandHelpTemplate),
			},
			{
				Name:  "dumpconfig",
				Usage: "Dumps either default or actual configuration (YAML)",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "default", Usage: "output default embedded configuration"},
				},
				OnUsageError: usageErrorHandler,
				Action:       outputConfiguration,
				ArgsUsage:    "DESTINATION",
				CustomHelpTemplate: fmt.Sprintf(`%s

DESTINATION:
    file name to write configuration to, if absent - STDOUT

Produces file with actual "active" configuration values which is composition of
default values and values specified in configuration file. To see default
configuration embedded into the program use --default flag.
`, cli.CommandHelpTemplate),
			},
		},
	}
}

func main() {

	// allow graceful shutdown on interrupt.
	ctx, stop := signal.NotifyContext(env.ContextWithEnv(context.Background()), os.Interrupt, syscall.SIGTERM)

	var err error
	// NOTE: os.Exit is called at the end of main to set exit code, make sure
	// there are no other deffered functions after that
	defer func() {
		stop()
		if err != nil {
			// It may happen that log is either not set yet (argument parsing) or already closed,
			// report errors to stderr directly
			if !errWasHandled {
				fmt.Fprintf(os.Stderr, "Program ended with error: %v\n", err)
			}
			os.Exit(1)
		}
	}()
	err = newApp().Run(ctx, os.Args)
}

func importBooks(ctx context.Context, cmd *cli.Command) (err error) {
	e := env.EnvFromContext(ctx)
	if cmd.Args().Len() == 0 {
		return errors.New("nothing to import")
	}
	for _, path := range cmd.Args().Slice() {
		b, er := e.Library.Import(path)
		if er != nil {
			err = multierr.Append(err, fmt.Errorf("unable to import '%s': %w", path, er))
			continue
		}
		fmt.Fprintf(cmd.Root().Writer, "%s\t%s\n", b.ID, b.Title)
	}
	return err
}

func listBooks(ctx context.Context, cmd *cli.Command) error {
	e := env.EnvFromContext(ctx)
	books := e.Library.List()
	if len(books) == 0 {
		e.Log.Info("Library is empty", zap.String("state", e.Store.Path()))
		return nil
	}
	w := cmd.Root().Writer
	for _, b := range books {
		title := b.Title
		if b.Author != "" {
			title += " by " + b.Author
		}
		fmt.Fprintf(w, "%-24s %3d%%  %s\n", b.ID, b.Percent, title)
	}
	return nil
}

func removeBooks(ctx context.Context, cmd *cli.Command) (err error) {
	e := env.EnvFromContext(ctx)
	if cmd.Args().Len() == 0 {
		return errors.New("no book id given")
	}
	for _, id := range cmd.Args().Slice() {
		if er := e.Library.Remove(id); er != nil {
			err = multierr.Append(err, er)
			continue
		}
		e.Log.Info("Book removed", zap.String("id", id))
	}
	return err
}

func setTheme(ctx context.Context, cmd *cli.Command) error {
	e := env.EnvFromContext(ctx)
	var err error
	switch arg := cmd.Args().First(); arg {
	case "":
	case "toggle":
		_, err = e.Library.ToggleTheme()
	case string(state.ThemeLight), string(state.ThemeDark):
		err = e.Library.SetTheme(state.Theme(arg))
	default:
		return fmt.Errorf("unknown theme '%s'", arg)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.Root().Writer, e.Library.Theme())
	return nil
}

func readBook(ctx context.Context, cmd *cli.Command) error {
	e := env.EnvFromContext(ctx)
	id := cmd.Args().First()
	if id == "" {
		return errors.New("no book id given")
	}
	if ownsTerminal {
		// the reader draws on the terminal, only the file log stays
		log, err := e.Cfg.Logging.WithoutConsole().Prepare()
		if err != nil {
			return fmt.Errorf("unable to prepare logs: %w", err)
		}
		e.RestoreStdLog()
		e.Log = log
		e.RedirectStdLog()
	}
	if err := e.OpenLibrary(); err != nil {
		return fmt.Errorf("unable to open library: %w", err)
	}
	return runReader(ctx, e, id)
}

func outputConfiguration(ctx context.Context, cmd *cli.Command) error {

	e := env.EnvFromContext(ctx)
	if cmd.Args().Len() > 1 {
		e.Log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[1:]))
	}

	fname := cmd.Args().Get(0)

	var (
		err  error
		data []byte
		what string
		out  io.Writer = cmd.Root().Writer
	)

	if len(fname) > 0 {
		f, err := os.Create(fname)
		if err != nil {
			return fmt.Errorf("unable to create destination file '%s': %w", fname, err)
		}
		defer f.Close()
		out = f
	}

	if cmd.Bool("default") {
		what = "default"
		data, err = config.Prepare()
	} else {
		what = "actual"
		data, err = config.Dump(e.Cfg)
	}
	if err != nil {
		return fmt.Errorf("unable to get configuration: %w", err)
	}

	if len(fname) == 0 {
		fname = "STDOUT"
	}
	e.Log.Debug("Outputing configuration", zap.String("state", what), zap.String("file", fname))

	if _, err = out.Write(data); err != nil {
		return fmt.Errorf("unable to write configuration: %w", err)
	}
	return nil
}
