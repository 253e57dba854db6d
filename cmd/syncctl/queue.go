package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/memonexus/syncengine/internal/app"
	apperrors "github.com/kimhsiao/memonexus/syncengine/internal/errors"
	"github.com/kimhsiao/memonexus/syncengine/internal/models"
	"github.com/kimhsiao/memonexus/syncengine/internal/uuid"
)

func newEnqueueCommand(opts *RootOptions) *cobra.Command {
	var (
		payload string
		file    string
	)

	cmd := &cobra.Command{
		Use:   "enqueue [id]",
		Short: "Queue a mutation for the next sync",
		Long:  "Queue a mutation for the next sync. Without an id one is generated; an existing id is overwritten.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := uuid.NewMutationID()
			if len(args) == 1 {
				id = args[0]
			}

			body, err := readPayload(payload, file)
			if err != nil {
				return err
			}

			return opts.withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				rec, err := a.Engine.Enqueue(ctx, id, body)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), rec, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Queued %s\n", rec.ID)
					return err
				})
			})
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "{}", "mutation payload as a JSON object")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the payload from a JSON file")
	return cmd
}

// readPayload decodes the payload from file when set, else from raw.
func readPayload(raw, file string) (map[string]interface{}, error) {
	data := []byte(raw)
	if file != "" {
		var err error
		if data, err = os.ReadFile(file); err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
	}

	var body map[string]interface{}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "payload must be a JSON object", err)
	}
	return body, nil
}

func newListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List pending mutations in drain order",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				pending, err := a.Engine.Pending(ctx)
				if err != nil {
					return err
				}
				if pending == nil {
					pending = []models.MutationRecord{}
				}
				return opts.print(cmd.OutOrStdout(), pending, func(w io.Writer) error {
					return writeQueueTable(w, pending)
				})
			})
		},
	}
}

func writeQueueTable(w io.Writer, pending []models.MutationRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tATTEMPTS\tLAST ERROR")
	for _, rec := range pending {
		lastErr := rec.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", rec.ID, rec.CreatedAt.Format(time.RFC3339), rec.SyncAttempts, lastErr)
	}
	return tw.Flush()
}

func newRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>...",
		Aliases: []string{"rm"},
		Short:   "Drop pending mutations without syncing them",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				for _, id := range args {
					if err := a.Engine.Remove(ctx, id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", id)
				}
				return nil
			})
		},
	}
}

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue and connectivity status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				status, err := a.Engine.Status(ctx)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), status, func(w io.Writer) error {
					fmt.Fprintf(w, "State:    %s\n", status.State)
					fmt.Fprintf(w, "Pending:  %d\n", status.Pending)
					fmt.Fprintf(w, "Data dir: %s\n", opts.cfg.DataDir)
					return nil
				})
			})
		},
	}
}
