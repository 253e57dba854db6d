package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"github.com/kimhsiao/memonexus/syncengine/internal/app"
	apperrors "github.com/kimhsiao/memonexus/syncengine/internal/errors"
	"github.com/kimhsiao/memonexus/syncengine/internal/events"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync"
)

func newDrainCommand(opts *RootOptions) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Sync every pending mutation now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				var progress *drainProgress
				if !quiet {
					progress = newDrainProgress(cmd.ErrOrStderr())
				}
				done := make(chan struct{}, 1)
				unsubscribe := a.Engine.Subscribe(func(e events.Event) {
					if progress != nil {
						progress.handle(e)
					}
					switch e.(type) {
					case events.SyncCompleted, events.SyncPartiallyCompleted, events.SyncError:
						select {
						case done <- struct{}{}:
						default:
						}
					}
				})
				defer unsubscribe()

				out, err := drain(ctx, a, done)
				if progress != nil {
					progress.finish()
				}
				if err != nil {
					return err
				}

				if err := opts.print(cmd.OutOrStdout(), out, func(w io.Writer) error {
					return writeOutcome(w, out)
				}); err != nil {
					return err
				}
				if out.State == "error" {
					return fmt.Errorf("sync failed: %s", out.Reason)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "hide the progress bar")
	return cmd
}

// drain starts the engine and runs one manual sync. Start may already
// have begun a startup sync for pending mutations; that drain's outcome
// is reported instead.
func drain(ctx context.Context, a *app.App, done <-chan struct{}) (sync.Outcome, error) {
	if err := a.Start(ctx); err != nil {
		return sync.Outcome{}, err
	}

	out, err := a.Engine.SyncNow(ctx)
	if !apperrors.Is(err, apperrors.ErrSyncInProgress) {
		return out, err
	}

	select {
	case <-done:
	case <-ctx.Done():
		return sync.Outcome{}, ctx.Err()
	}
	status, err := a.Engine.Status(ctx)
	if err != nil {
		return sync.Outcome{}, err
	}
	if status.LastOutcome == nil {
		return sync.Outcome{}, apperrors.New(apperrors.ErrInternal, "sync finished without an outcome")
	}
	return *status.LastOutcome, nil
}

func writeOutcome(w io.Writer, out sync.Outcome) error {
	switch out.State {
	case "completed":
		_, err := fmt.Fprintf(w, "Synced %d mutation(s)\n", out.Synced)
		return err
	case "partially_completed":
		suffix := ""
		if out.Interrupted {
			suffix = " (went offline)"
		}
		_, err := fmt.Fprintf(w, "Synced %d mutation(s), %d still queued%s: %s\n",
			out.Synced, len(out.FailedIDs), suffix, strings.Join(out.FailedIDs, ", "))
		return err
	default:
		_, err := fmt.Fprintf(w, "Sync %s: %s\n", out.State, out.Reason)
		return err
	}
}

// drainProgress renders SyncProgress events as a progress bar. handle runs
// on the engine loop and only updates counters.
type drainProgress struct {
	bar     *pb.ProgressBar
	started bool
}

func newDrainProgress(w io.Writer) *drainProgress {
	bar := pb.New(0)
	bar.SetWriter(w)
	bar.SetTemplateString(`Syncing {{counters . }} {{bar . }} {{percent . }}`)
	return &drainProgress{bar: bar}
}

func (p *drainProgress) handle(e events.Event) {
	ev, ok := e.(events.SyncProgress)
	if !ok {
		return
	}
	if !p.started {
		p.bar.SetTotal(int64(ev.Total))
		p.bar.Start()
		p.started = true
	}
	p.bar.SetCurrent(int64(ev.Synced))
}

func (p *drainProgress) finish() {
	if p.started {
		p.bar.Finish()
	}
}
