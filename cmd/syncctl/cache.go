package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/memonexus/syncengine/internal/app"
	apperrors "github.com/kimhsiao/memonexus/syncengine/internal/errors"
	"github.com/kimhsiao/memonexus/syncengine/internal/models"
)

func newCacheCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage content cached for offline reads",
	}

	cmd.AddCommand(newCachePutCommand(opts))
	cmd.AddCommand(newCacheGetCommand(opts))
	cmd.AddCommand(newCacheRemoveCommand(opts))
	cmd.AddCommand(newCacheListCommand(opts))
	return cmd
}

func newCachePutCommand(opts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "put <id> [data]",
		Short: "Cache content under id",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			switch {
			case file != "":
				var err error
				if data, err = os.ReadFile(file); err != nil {
					return fmt.Errorf("read content file: %w", err)
				}
			case len(args) == 2:
				data = []byte(args[1])
			default:
				return apperrors.New(apperrors.ErrInvalid, "content is required: pass it as an argument or with --file")
			}

			return opts.withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				entry, err := a.Engine.CacheContent(ctx, args[0], data)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), entry, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Cached %s (%d bytes)\n", entry.ID, len(entry.Data))
					return err
				})
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the content from a file")
	return cmd
}

func newCacheGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print cached content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				entry, found, err := a.Engine.CachedContent(ctx, args[0])
				if err != nil {
					return err
				}
				if !found {
					return apperrors.New(apperrors.ErrNotFound, "no cached content for "+args[0])
				}
				return opts.print(cmd.OutOrStdout(), entry, func(w io.Writer) error {
					_, err := w.Write(entry.Data)
					return err
				})
			})
		},
	}
}

func newCacheRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"remove"},
		Short:   "Evict cached content",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				for _, id := range args {
					if err := a.Engine.RemoveCached(ctx, id); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newCacheListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List cached entries",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				entries, err := a.Engine.ListCached(ctx)
				if err != nil {
					return err
				}
				if entries == nil {
					entries = []models.CachedContent{}
				}
				return opts.print(cmd.OutOrStdout(), entries, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tBYTES\tCACHED")
					for _, e := range entries {
						fmt.Fprintf(tw, "%s\t%d\t%s\n", e.ID, len(e.Data), e.CachedAt.Format(time.RFC3339))
					}
					return tw.Flush()
				})
			})
		},
	}
}
