package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/filedrop/filedrop/pkg/types"
)

var longListing bool

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List shared files, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		files, err := newClient().ListFiles(ctx)
		if err != nil {
			return fmt.Errorf("failed to list files: %w", err)
		}

		if wantJSON() {
			return printJSON(cmd.OutOrStdout(), files)
		}
		printFiles(cmd.OutOrStdout(), files, longListing)
		return nil
	},
}

var outputPath string

var getCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Download a shared file",
	Long: `Download a shared file into the current directory, or to the path given
with -o. Use -o - to write to stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		dest := outputPath
		if dest == "" {
			dest = filepath.Base(name)
		}

		var w io.Writer = cmd.OutOrStdout()
		if dest != "-" {
			f, err := os.Create(dest)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", dest, err)
			}
			defer f.Close()
			w = f
		}

		n, err := newClient().Download(context.Background(), name, w)
		if err != nil {
			if dest != "-" {
				os.Remove(dest)
			}
			return fmt.Errorf("failed to download %s: %w", name, err)
		}

		if dest != "-" {
			fmt.Fprintf(cmd.ErrOrStderr(), "✓ %s (%s)\n", dest, humanSize(n))
		}
		return nil
	},
}

func init() {
	lsCmd.Flags().BoolVarP(&longListing, "long", "l", false, "include modification time and SHA-256")
	getCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output path (- for stdout)")
	rootCmd.AddCommand(lsCmd, getCmd)
}

func printFiles(w io.Writer, files []types.FileInfo, long bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if long {
		fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED\tSHA256")
	} else {
		fmt.Fprintln(tw, "NAME\tSIZE")
	}
	for _, f := range files {
		if long {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Name, humanSize(f.Size), f.Modified, f.SHA256)
		} else {
			fmt.Fprintf(tw, "%s\t%s\n", f.Name, humanSize(f.Size))
		}
	}
	tw.Flush()
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit && exp < 3; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGT"[exp])
}
