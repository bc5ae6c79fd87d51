package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"
	"k8s.io/component-base/term"

	"github.com/autopeer-io/mavbridge/pkg/log"
)

// RunFunc is the body of a command, called once flags and config are loaded.
type RunFunc func() error

// NamedFlagSetOptions is implemented by the option aggregate of a command.
type NamedFlagSetOptions interface {
	// Flags returns the command's flags grouped by section.
	Flags() cliflag.NamedFlagSets

	// Complete fills in fields derived from other fields.
	Complete() error

	// Validate checks the options and aggregates every problem found.
	Validate() error
}

// LogOptionsGetter is implemented by options that carry logger settings.
// The logger is initialised from them before RunFunc is called.
type LogOptionsGetter interface {
	LogOptions() *log.Options
}

// App is a cobra command with layered configuration: flag defaults, then the
// config file, then MAVBRIDGE_* style environment, then explicit flags.
type App struct {
	name        string
	shortDesc   string
	description string
	configName  string
	noConfig    bool

	options  NamedFlagSetOptions
	runFunc  RunFunc
	args     cobra.PositionalArgs
	commands []*cobra.Command
	watcher  func(*viper.Viper)

	viper   *viper.Viper
	cfgFile string
	cmd     *cobra.Command
}

// Option configures an App.
type Option func(*App)

// WithDescription sets the long description.
func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithOptions sets the options the command's flags and config bind to.
func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opts }
}

// WithRunFunc sets the command body.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.runFunc = run }
}

// WithDefaultValidArgs rejects positional arguments.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// WithNoConfig disables the --config flag and config file lookup.
func WithNoConfig() Option {
	return func(a *App) { a.noConfig = true }
}

// WithConfigName sets the config file base name and environment prefix.
// Defaults to the command name.
func WithConfigName(name string) Option {
	return func(a *App) { a.configName = name }
}

// WithSubCommands attaches child commands.
func WithSubCommands(cmds ...*cobra.Command) Option {
	return func(a *App) { a.commands = append(a.commands, cmds...) }
}

// WithConfigWatcher calls fn with the reloaded configuration every time the
// config file changes on disk.
func WithConfigWatcher(fn func(*viper.Viper)) Option {
	return func(a *App) { a.watcher = fn }
}

// NewApp builds an App and its cobra command.
func NewApp(name, shortDesc string, opts ...Option) *App {
	a := &App{
		name:       name,
		shortDesc:  shortDesc,
		configName: name,
		viper:      viper.New(),
	}
	for _, o := range opts {
		o(a)
	}
	a.buildCommand()
	return a
}

// Command returns the underlying cobra command, e.g. to nest it.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the command and exits the process with status 1 on error.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.shortDesc,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true
	cmd.AddCommand(a.commands...)
	if a.runFunc != nil {
		cmd.RunE = a.runCommand
	}

	var fss cliflag.NamedFlagSets
	if a.options != nil {
		fss = a.options.Flags()
	}
	global := fss.FlagSet("global")
	if !a.noConfig {
		global.StringVarP(&a.cfgFile, "config", "c", a.cfgFile,
			fmt.Sprintf("Read configuration from the specified file, supports JSON, TOML, YAML, HCL, or Java properties formats. Looked up as %s.yaml when unset.", a.configName))
	}
	globalflag.AddGlobalFlags(global, cmd.Name())
	for _, f := range fss.FlagSets {
		cmd.Flags().AddFlagSet(f)
	}

	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, fss, cols)

	a.cmd = cmd
}

func (a *App) runCommand(cmd *cobra.Command, args []string) error {
	if a.options != nil {
		if err := a.loadConfig(cmd); err != nil {
			return err
		}
		if err := a.options.Complete(); err != nil {
			return err
		}
		if err := a.options.Validate(); err != nil {
			return err
		}
	}

	if g, ok := a.options.(LogOptionsGetter); ok {
		if err := log.Init(g.LogOptions()); err != nil {
			return err
		}
		defer log.Sync()
	}

	if a.watcher != nil && a.viper.ConfigFileUsed() != "" {
		a.watchConfig()
	}

	return a.runFunc()
}
