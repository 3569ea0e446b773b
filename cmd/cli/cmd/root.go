package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/filedrop/filedrop/pkg/client"
)

var (
	baseURL    string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "filedrop",
	Short: "filedrop CLI - browse and fetch files from a filedrop server",
	Long: `filedrop is a command-line client for a filedrop server.

It lists the shared directory, downloads files, follows live change
notifications and shows the server's event history.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", getEnvOrDefault("FILEDROP_URL", "http://localhost:8080"), "filedrop server base URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of a table (default when stdout is not a terminal)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func newClient() *client.Client {
	return client.NewClient(baseURL)
}

// wantJSON reports whether output should be machine readable.
func wantJSON() bool {
	return jsonOutput || !term.IsTerminal(int(os.Stdout.Fd()))
}
