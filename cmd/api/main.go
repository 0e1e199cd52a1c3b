package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	envFile string

	rootCmd = &cobra.Command{
		Use:   "dochub-api",
		Short: "Versioned document store with reviewed updates",
		Long: `dochub-api serves the document registry, version history,
document update requests and review comments over HTTP.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE:  runServe,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE:  runMigrate,
	}

	tokenCmd = &cobra.Command{
		Use:   "token [user-id]",
		Short: "Issue a signed bearer token for local development",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	tokenCmd.Flags().String("username", "", "display name carried in the token (defaults to the user id)")
	tokenCmd.Flags().String("role", "editor", "role claim: viewer, editor, admin or owner")
	tokenCmd.Flags().Duration("ttl", 0, "token lifetime (default 24h)")

	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
