package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gitlab.com/tinyland/lab/barpulse/pkg/app"
	"gitlab.com/tinyland/lab/barpulse/pkg/composite"
	"gitlab.com/tinyland/lab/barpulse/pkg/config"
	"gitlab.com/tinyland/lab/barpulse/pkg/daemon"
	"gitlab.com/tinyland/lab/barpulse/pkg/module"
	"gitlab.com/tinyland/lab/barpulse/pkg/modules"
	"gitlab.com/tinyland/lab/barpulse/pkg/preview"
	"gitlab.com/tinyland/lab/barpulse/pkg/theme"
)

type globalFlags struct {
	configPath string
	logFile    string
	debug      bool
}

func newRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "barpulse",
		Short:         "Status bar content generator speaking the i3bar protocol",
		Version:       fmt.Sprintf("%s (%s) built %s", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: false,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBar(cmd.Context(), flags, stdin, stdout, stderr)
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "path to the configuration file")
	pf.StringVar(&flags.logFile, "log-file", "", "also append logs to this file")
	pf.BoolVar(&flags.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newRefreshCommand(flags),
		newListCommand(),
		newTestModuleCommand(flags),
	)
	return root
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func runBar(ctx context.Context, flags *globalFlags, stdin io.Reader, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	logFile := cfg.General.LogFile
	if flags.logFile != "" {
		logFile = flags.logFile
	}
	logger, closer, err := app.NewLogger(stderr, app.LogOptions{
		Level: cfg.General.LogLevel,
		Debug: flags.debug,
		File:  logFile,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	a, err := app.New(app.Options{
		Config:   cfg,
		Registry: modules.NewRegistry(),
		Logger:   logger,
		Stdin:    stdin,
		Stdout:   stdout,
	})
	if err != nil {
		return err
	}
	if err := a.Run(ctx); err != nil {
		logger.Error("fatal", "error", err)
		return err
	}
	return nil
}

// --- refresh ---

func newRefreshCommand(flags *globalFlags) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "refresh [module...]",
		Short: "Ask a running bar to update modules now",
		Long: "Modules are named as in the order list: \"name\", \"name instance\" or\n" +
			"\"name.instance\". A bare name refreshes every instance of that module.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("refresh takes module names or --all")
			}
			cfg, err := loadConfig(flags.configPath)
			if err != nil {
				return err
			}
			cmds := []string{"refresh_all"}
			if !all {
				cmds = cmds[:0]
				for _, a := range args {
					cmds = append(cmds, "refresh "+a)
				}
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			replies, err := daemon.NewClient(cfg.Socket.Path).Send(ctx, cmds...)
			if err != nil {
				return err
			}
			var failed []string
			for i, r := range replies {
				switch {
				case !r.OK:
					failed = append(failed, r.Error)
				case len(r.Refreshed) > 0:
					fmt.Fprintln(cmd.OutOrStdout(), "refreshed", strings.Join(r.Refreshed, ", "))
				default:
					fmt.Fprintln(cmd.OutOrStdout(), "ok:", cmds[i])
				}
			}
			if len(failed) > 0 {
				return errors.New(strings.Join(failed, "; "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "refresh every module")
	return cmd
}

// --- list ---

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the built-in modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range modules.NewRegistry().List() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

// --- test-module ---

func newTestModuleCommand(flags *globalFlags) *cobra.Command {
	var (
		instance  string
		params    map[string]string
		showNames bool
		width     int
	)
	cmd := &cobra.Command{
		Use:   "test-module <name>",
		Short: "Run one module once and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if flags.configPath != "" {
				var err error
				if cfg, err = config.LoadFromFile(flags.configPath); err != nil {
					return err
				}
			}
			id := config.ModuleID(args[0], instance)
			merged := map[string]any{}
			for k, v := range cfg.ModuleParams(id) {
				merged[k] = v
			}
			for k, v := range params {
				merged[k] = parseParam(v)
			}
			cfg.Modules[id] = merged

			out, err := runModuleOnce(cmd.Context(), cfg, id)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, preview.Render(out, preview.Options{
				Profile:   preview.ProfileFor(w),
				MaxWidth:  width,
				ShowNames: showNames,
			}))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&instance, "instance", "", "instance name")
	f.StringToStringVarP(&params, "param", "p", nil, "module parameter as key=value (repeatable)")
	f.BoolVar(&showNames, "names", false, "prefix blocks with their module id")
	f.IntVar(&width, "width", 0, "maximum output width in cells")
	return cmd
}

// runModuleOnce loads id into a fresh host, runs every method once and
// returns the output. Method errors appear in the output as they would on
// the bar.
func runModuleOnce(ctx context.Context, cfg *config.Config, id string) ([]composite.Segment, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	reg := modules.NewRegistry()
	name, _ := config.SplitModuleID(id)
	if _, ok := reg.Get(name); !ok {
		return nil, fmt.Errorf("%w: %q (see barpulse list)", module.ErrUnknownModule, name)
	}
	host := module.NewHost(module.HostConfig{
		Registry:       reg,
		Config:         cfg,
		Palette:        theme.Get(cfg.General.Theme),
		CommandTimeout: cfg.General.MethodTimeout.Duration,
	})
	if err := host.Load(ctx, []string{id}); err != nil {
		return nil, err
	}
	defer host.KillAll()
	inst, _ := host.Instance(id)
	ctx, cancel := context.WithTimeout(ctx, cfg.General.MethodTimeout.Duration)
	defer cancel()
	for _, m := range inst.Methods() {
		inst.Execute(ctx, m)
	}
	segs := inst.Output().Segments()
	for i := range segs {
		segs[i].Name = inst.Name()
		segs[i].Instance = inst.InstanceName()
	}
	return segs, nil
}

// parseParam reads a command-line value as a bool, integer, float or
// comma-separated list before falling back to a string.
func parseParam(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = strings.TrimSpace(p)
		}
		return out
	}
	return s
}
