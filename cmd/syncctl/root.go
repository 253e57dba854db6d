package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kimhsiao/memonexus/syncengine/internal/app"
	"github.com/kimhsiao/memonexus/syncengine/internal/config"
	"github.com/kimhsiao/memonexus/syncengine/internal/logging"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync/remote"
)

// EnvPrefix prefixes environment overrides, e.g. SYNCENGINE_DATA_DIR.
const EnvPrefix = "SYNCENGINE"

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	v *viper.Viper

	// remote replaces the configured writer. Tests only.
	remote remote.Writer
	cfg    config.Config
}

// Format returns the selected output format.
func (o *RootOptions) Format() string {
	return o.v.GetString("format")
}

// NewRootCommand creates the root command for syncctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	opts.v = viper.New()

	cmd := &cobra.Command{
		Use:           "syncctl",
		Short:         "Inspect and drain the offline sync queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format()) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format(), ValidFormats)
			}
			return opts.loadConfig()
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "path to config.toml")
	flags.String("data-dir", "", "override the data directory")
	flags.String("log-level", "", "override the log level")
	flags.Bool("assume-online", false, "skip the connectivity probe and treat the network as reachable")
	flags.String("format", "text", "output format (json|text)")

	if err := bindFlags(flags, opts.v); err != nil {
		panic(err)
	}
	opts.v.SetEnvPrefix(EnvPrefix)
	opts.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	opts.v.AutomaticEnv()

	cmd.AddCommand(newEnqueueCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newRemoveCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newDrainCommand(opts))
	cmd.AddCommand(newCacheCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// bindFlags binds every flag in fs to v.
func bindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	var result error
	fs.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			result = multierror.Append(result, err)
		}
	})
	return result
}

func (o *RootOptions) loadConfig() error {
	cfg, err := config.Load(o.v.GetString("config"))
	if err != nil {
		return err
	}
	if dir := o.v.GetString("data-dir"); dir != "" {
		expanded, err := config.ExpandPath(dir)
		if err != nil {
			return err
		}
		cfg.DataDir = expanded
	}
	if level := o.v.GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.Init(os.Stderr, logging.ParseLevel(cfg.LogLevel))
	o.cfg = cfg
	return nil
}

// withApp builds an engine over the configured database and runs fn.
// The engine is started only when start is true.
func (o *RootOptions) withApp(ctx context.Context, start bool, fn func(ctx context.Context, a *app.App) error) (err error) {
	a, err := app.Build(o.cfg, app.Options{
		AssumeOnline:  o.v.GetBool("assume-online"),
		Remote:        o.remote,
		EngineOptions: []sync.Option{sync.WithoutPeriodicTrigger()},
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	if start {
		if err := a.Start(ctx); err != nil {
			return err
		}
	}
	return fn(ctx, a)
}

// print writes v as JSON, or calls text for the text format.
func (o *RootOptions) print(w io.Writer, v interface{}, text func(io.Writer) error) error {
	if o.Format() == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the syncctl version",
		Args:  cobra.NoArgs,
		// The version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "syncctl v%s\n", Version)
			return err
		},
	}
}
