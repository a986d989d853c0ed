package commands

import (
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	baseURL string
	timeout time.Duration
	verbose bool

	// errOut receives verbose diagnostics.
	errOut io.Writer = os.Stderr
)

var rootCmd = &cobra.Command{
	Use:   "promptctl",
	Short: "Client for the promptqueue server",
	Long: `promptctl talks to a promptqueue server over HTTP and websocket.

Examples:
  # Ask a question and follow the answer as it streams
  promptctl submit --user ada "explain goroutines in one paragraph"

  # Inspect the queue and raise the concurrency limit
  promptctl queue
  promptctl limit 5
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "http://127.0.0.1:8080", "promptqueue base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall timeout for the command")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print every event")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(limitCmd)
}
