package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/UniQw/syncq"
	"github.com/UniQw/syncq/internal/runtime"
)

type syncOutput struct {
	PassID     string `json:"pass_id"`
	Processed  int    `json:"processed"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	Pending    int    `json:"pending"`
	Error      string `json:"error,omitempty"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass now",
		Long: `Run one sync pass over pending and failed items in creation order.
Exits 1 when any item failed and 2 when the pass itself could not run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withRuntime(func(rt *runtime.Runtime) error {
				a := rt.Adapter()
				res := a.Sync(bg(cmd))
				st := a.State()
				out := syncOutput{
					PassID:     res.PassID,
					Processed:  res.Processed,
					Successful: res.Successful,
					Failed:     res.Failed,
					Skipped:    res.Skipped,
					Pending:    st.PendingCount,
					Error:      st.LastError,
				}
				if err := rootOpts.print(cmd.OutOrStdout(), out, func(w io.Writer) error {
					return writeSyncResult(w, res, st)
				}); err != nil {
					return err
				}
				switch {
				case strings.HasPrefix(st.LastError, "sync failed"):
					return NewExitError(ExitCommandError, st.LastError)
				case res.Failed > 0:
					return NewExitError(ExitFailure, st.LastError)
				}
				return nil
			})
		},
	}
}

func writeSyncResult(w io.Writer, res *syncq.SyncResult, st syncq.State) error {
	for _, ir := range res.Results {
		if ir.Status == syncq.StatusFailed {
			fmt.Fprintf(w, "FAIL %s %s (retry %d): %s\n", ir.ID, ir.Action, ir.RetryCount, ir.Error)
			continue
		}
		fmt.Fprintf(w, "ok   %s %s\n", ir.ID, ir.Action)
	}
	_, err := fmt.Fprintf(w, "processed=%d successful=%d failed=%d skipped=%d pending=%d\n",
		res.Processed, res.Successful, res.Failed, res.Skipped, st.PendingCount)
	return err
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the background sync agent",
		Long: `Run the sync agent until SIGINT or SIGTERM. Passes start when the probe
URL becomes reachable, on the configured schedule, and once at startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(bg(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return rootOpts.withRuntime(func(rt *runtime.Runtime) error {
				return runAgent(ctx, rt)
			})
		},
	}
}

func runAgent(ctx context.Context, rt *runtime.Runtime) error {
	if err := rt.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "start", err)
	}
	rt.Adapter().Sync(ctx)
	<-ctx.Done()
	rt.Stop()
	return nil
}
