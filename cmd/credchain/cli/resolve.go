package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/credchain/credchain/internal/core"
)

// RegisterResolveCommands adds credential resolution commands.
func RegisterResolveCommands(root *cobra.Command) {
	root.AddCommand(newResolveCmd())
	root.AddCommand(newWhoamiCmd())
}

func newResolveCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "resolve <profile>",
		Short: "Resolve credentials for a profile",
		Long: `Resolve credentials for a profile, following its source_profile chain,
credential_process, or SSO configuration as needed.

Output formats:
  env   shell export lines for eval (default)
  json  credential_process-compatible JSON`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			creds, err := a.manager.Resolve(cmd.Context(), args[0])
			if err != nil {
				if core.IsInteractiveActionRequired(err) {
					return fmt.Errorf("%w\nRun 'credchain login %s' first", err, args[0])
				}
				return err
			}

			switch format {
			case "env":
				printEnv(creds)
			case "json":
				return printProcessJSON(creds)
			default:
				return fmt.Errorf("unknown format %q (env, json)", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "env", "Output format: env or json")
	return cmd
}

func printEnv(creds core.Credentials) {
	fmt.Printf("export AWS_ACCESS_KEY_ID=%s\n", creds.AccessKeyID)
	fmt.Printf("export AWS_SECRET_ACCESS_KEY=%s\n", creds.SecretAccessKey)
	if creds.SessionToken != "" {
		fmt.Printf("export AWS_SESSION_TOKEN=%s\n", creds.SessionToken)
	}
}

// printProcessJSON emits the credential_process contract, so credchain can
// itself back a credential_process entry in another tool's config.
func printProcessJSON(creds core.Credentials) error {
	out := map[string]any{
		"Version":         1,
		"AccessKeyId":     creds.AccessKeyID,
		"SecretAccessKey": creds.SecretAccessKey,
	}
	if creds.SessionToken != "" {
		out["SessionToken"] = creds.SessionToken
	}
	if creds.Expiration != nil {
		out["Expiration"] = creds.Expiration.Format(time.RFC3339)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami [profile]",
		Short: "Resolve a profile and show the caller identity behind it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profileName := "default"
			if len(args) == 1 {
				profileName = args[0]
			}
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			creds, err := a.manager.Resolve(cmd.Context(), profileName)
			if err != nil {
				return err
			}

			region := a.cfg.DefaultRegion
			if prov := a.manager.Provider(profileName); prov != nil && prov.Identifier().DefaultRegion != "" {
				region = prov.Identifier().DefaultRegion
			}

			arn, account, userID, err := a.clients.GetCallerIdentity(cmd.Context(), creds, region)
			if err != nil {
				return err
			}

			fmt.Printf("Profile:  %s\n", profileName)
			fmt.Printf("ARN:      %s\n", arn)
			fmt.Printf("Account:  %s\n", account)
			fmt.Printf("UserId:   %s\n", userID)
			if creds.Expiration != nil {
				fmt.Printf("Expires:  %s\n", creds.Expiration.Format(time.RFC3339))
			}
			return nil
		},
	}
	return cmd
}
