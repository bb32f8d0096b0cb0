package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/UniQw/syncq"
	"github.com/UniQw/syncq/internal/runtime"
)

// EnqueueOptions holds flags for the enqueue command.
type EnqueueOptions struct {
	*RootOptions
	Action   string
	Endpoint string
	Method   string
	Body     string
	ID       string
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a mutation for the next sync",
		Long: `Queue a mutation. A --body that parses as JSON is stored in canonical
form; anything else is stored verbatim.

Example:
  syncq enqueue --action update_profile --endpoint /api/v1/users/me \
    --method PATCH --body '{"name":"Test"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if opts.Body != "" {
				var v any
				if err := json.Unmarshal([]byte(opts.Body), &v); err == nil {
					body = v
				} else {
					body = opts.Body
				}
			}
			m := syncq.Mutation{Action: opts.Action, Endpoint: opts.Endpoint, Method: opts.Method, Body: body}
			var eopts []syncq.Option
			if opts.ID != "" {
				eopts = append(eopts, syncq.ItemID(opts.ID))
			}
			return opts.withRuntime(func(rt *runtime.Runtime) error {
				id, err := rt.Queue().Enqueue(bg(cmd), m, eopts...)
				switch {
				case errors.Is(err, syncq.ErrInvalidMutation), errors.Is(err, syncq.ErrDuplicateItem):
					return WrapExitError(ExitCommandError, "enqueue", err)
				case err != nil:
					return storageErr(err)
				}
				return opts.print(cmd.OutOrStdout(), map[string]string{"id": id}, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, id)
					return err
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Action, "action", "", "logical action name (required)")
	cmd.Flags().StringVar(&opts.Endpoint, "endpoint", "", "API path (required)")
	cmd.Flags().StringVarP(&opts.Method, "method", "X", "POST", "HTTP method: GET, POST, PUT, PATCH or DELETE")
	cmd.Flags().StringVarP(&opts.Body, "body", "d", "", "request body")
	cmd.Flags().StringVar(&opts.ID, "id", "", "explicit item id")
	_ = cmd.MarkFlagRequired("action")
	_ = cmd.MarkFlagRequired("endpoint")

	return cmd
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var failed bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending (or failed) items in sync order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withRuntime(func(rt *runtime.Runtime) error {
				q := rt.Queue()
				var (
					items []syncq.QueueItem
					err   error
				)
				if failed {
					items, err = q.GetFailed(bg(cmd))
				} else {
					items, err = q.GetAll(bg(cmd))
				}
				if err != nil {
					return storageErr(err)
				}
				if items == nil {
					items = []syncq.QueueItem{}
				}
				return rootOpts.print(cmd.OutOrStdout(), items, func(w io.Writer) error {
					return writeItems(w, items)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&failed, "failed", false, "list failed items instead of pending ones")
	return cmd
}

func writeItems(w io.Writer, items []syncq.QueueItem) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tACTION\tMETHOD\tENDPOINT\tSTATUS\tRETRIES\tCREATED\tLAST ERROR")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			it.ID, it.Action, it.Method, it.Endpoint, it.Status, it.RetryCount,
			it.CreatedAt.Format(time.RFC3339), it.LastError)
	}
	return tw.Flush()
}

type countOutput struct {
	Pending  int        `json:"pending"`
	Failed   int        `json:"failed"`
	Unsynced int        `json:"unsynced"`
	InFlight int        `json:"processing"`
	LastSync *time.Time `json:"last_sync_at,omitempty"`
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Show queue counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withRuntime(func(rt *runtime.Runtime) error {
				ctx := bg(cmd)
				stats, err := rt.Queue().Stats(ctx)
				if err != nil {
					return storageErr(err)
				}
				out := countOutput{
					Pending:  stats[syncq.StatusPending],
					Failed:   stats[syncq.StatusFailed],
					Unsynced: stats[syncq.StatusPending] + stats[syncq.StatusFailed],
					InFlight: stats[syncq.StatusProcessing],
				}
				if ts, ok, err := rt.Queue().LastSyncAt(ctx); err != nil {
					return storageErr(err)
				} else if ok {
					out.LastSync = &ts
				}
				return rootOpts.print(cmd.OutOrStdout(), out, func(w io.Writer) error {
					fmt.Fprintf(w, "pending:    %d\nfailed:     %d\nprocessing: %d\n", out.Pending, out.Failed, out.InFlight)
					if out.LastSync != nil {
						fmt.Fprintf(w, "last sync:  %s\n", out.LastSync.Format(time.RFC3339))
					}
					return nil
				})
			})
		},
	}
}

// NewResetFailedCommand creates the reset-failed command.
func NewResetFailedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-failed",
		Short: "Move failed items back to pending with retry counts cleared",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withRuntime(func(rt *runtime.Runtime) error {
				n, err := rt.Queue().ResetFailed(bg(cmd))
				if err != nil {
					return storageErr(err)
				}
				return rootOpts.print(cmd.OutOrStdout(), map[string]int{"reset": n}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "reset %d item(s)\n", n)
					return err
				})
			})
		},
	}
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>...",
		Short: "Remove items by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withRuntime(func(rt *runtime.Runtime) error {
				for _, id := range args {
					if err := rt.Queue().Remove(bg(cmd), id); err != nil {
						return storageErr(err)
					}
				}
				return rootOpts.print(cmd.OutOrStdout(), map[string]int{"removed": len(args)}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "removed %d item(s)\n", len(args))
					return err
				})
			})
		},
	}
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every queued item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return NewExitError(ExitCommandError, "clear discards unsynced mutations; pass --yes to confirm")
			}
			return rootOpts.withRuntime(func(rt *runtime.Runtime) error {
				if err := rt.Adapter().ClearQueue(bg(cmd)); err != nil {
					return storageErr(err)
				}
				return rootOpts.print(cmd.OutOrStdout(), map[string]bool{"cleared": true}, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, "queue cleared")
					return err
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm")
	return cmd
}
