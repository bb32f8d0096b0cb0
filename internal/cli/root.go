// Package cli implements the syncq command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/UniQw/syncq/internal/config"
	"github.com/UniQw/syncq/internal/runtime"
)

// Exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a sync left items failed
	ExitCommandError = 2 // bad flags, config or storage errors
)

// ValidFormats lists the accepted --format values.
var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string

	cfg config.Config
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "syncq",
		Short: "syncq - offline mutation queue",
		Long: `Queue API mutations locally while offline and replay them in order
once the API is reachable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "load config", err)
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewEnqueueCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewCountCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewResetFailedCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))

	return cmd
}

// withRuntime opens the configured store for the duration of fn.
func (o *RootOptions) withRuntime(fn func(rt *runtime.Runtime) error) error {
	rt, err := runtime.Open(o.cfg, runtime.NewLogger(o.cfg.LogLevel))
	if err != nil {
		return WrapExitError(ExitCommandError, "open store", err)
	}
	defer rt.Close()
	return fn(rt)
}

// print writes v as JSON, or calls text for the text format.
func (o *RootOptions) print(w io.Writer, v any, text func(io.Writer) error) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	return WrapExitError(ExitCommandError, "storage", err)
}

func bg(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
