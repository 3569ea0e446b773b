package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print a line whenever the shared directory changes",
	Long: `Follow the server's live update stream. Each change is printed together
with the refreshed file count; use --list to print the full listing instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c := newClient()
		out := cmd.OutOrStdout()
		err := c.WatchEvents(ctx, func() error {
			lctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			files, err := c.ListFiles(lctx)
			if err != nil {
				return fmt.Errorf("failed to refresh listing: %w", err)
			}
			fmt.Fprintf(out, "%s  update  %d files\n", time.Now().Format(time.TimeOnly), len(files))
			if watchList {
				printFiles(out, files, false)
			}
			return nil
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent file events recorded by the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		events, err := newClient().History(ctx, historyLimit)
		if err != nil {
			return fmt.Errorf("failed to get history: %w", err)
		}

		if wantJSON() {
			return printJSON(cmd.OutOrStdout(), events)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "DETECTED\tEVENT\tNAME\tSIZE")
		for _, ev := range events {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				ev.DetectedAt.Local().Format(time.DateTime), ev.Type, ev.Name, humanSize(ev.Size))
		}
		return tw.Flush()
	},
}

var watchList bool

func init() {
	watchCmd.Flags().BoolVar(&watchList, "list", false, "print the full listing on every change")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of events to show")
	rootCmd.AddCommand(watchCmd, historyCmd)
}
