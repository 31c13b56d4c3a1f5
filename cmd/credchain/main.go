// credchain — AWS profile resolution and credential chaining CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/credchain/credchain/cmd/credchain/cli"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "credchain",
		Short: "credchain — AWS shared-config profile resolution and credential chaining",
		Long: `credchain reads the AWS shared config and credentials files, validates the
profile dependency graph, and resolves credentials through static keys,
credential_process, SSO, and chained AssumeRole. It can run once from the
CLI or as a daemon that watches the files and serves a local socket.`,
		Version:      version,
		SilenceUsage: true,
	}

	// Register command groups
	cli.RegisterProfileCommands(rootCmd)
	cli.RegisterResolveCommands(rootCmd)
	cli.RegisterLoginCommands(rootCmd)
	cli.RegisterDaemonCommands(rootCmd)
	cli.RegisterAuditCommands(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
