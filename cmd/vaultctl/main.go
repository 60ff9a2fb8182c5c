package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	token     string
	timeout   time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vaultctl",
		Short: "Command line client for the FileVault API",
		Long: `vaultctl talks to a FileVault server.

Bytes are sent straight to the object store through presigned URLs;
the server only checks quota and records the result.

Examples:
  # Get a development token
  vaultctl token member@acme.test

  # Upload a file
  vaultctl upload ./report.pdf

  # Show the current quota
  vaultctl quota`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&serverURL, "server", envOr("VAULT_SERVER", "http://localhost:8080/api/v1"), "API base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("VAULT_TOKEN"), "bearer token")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "overall request timeout")

	root.AddCommand(newUploadCmd())
	root.AddCommand(newQuotaCmd())
	root.AddCommand(newFilesCmd())
	root.AddCommand(newTokenCmd())
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
