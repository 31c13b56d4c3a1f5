package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RegisterLoginCommands adds SSO login/logout commands.
func RegisterLoginCommands(root *cobra.Command) {
	root.AddCommand(newLoginCmd())
	root.AddCommand(newLogoutCmd())
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <profile>",
		Short: "Run the SSO device-authorization flow for a profile",
		Long: `Start an SSO device-authorization login for the given profile and cache
the resulting token. The profile must carry SSO configuration, directly or
via an sso-session section.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			cfg, err := ssoConfigForProfile(a, args[0])
			if err != nil {
				return err
			}

			err = a.resolver.Login(cmd.Context(), cfg, func(prompt string) {
				fmt.Fprintln(os.Stderr, prompt)
			})
			if err != nil {
				return err
			}

			fmt.Printf("Logged in to %s\n", cfg.StartURL)
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "logout [profile]",
		Short: "Discard cached SSO tokens",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			if all {
				if err := a.tokens.InvalidateAll(); err != nil {
					return err
				}
				a.manager.Invalidate("")
				fmt.Println("All cached SSO tokens discarded")
				return nil
			}

			if len(args) != 1 {
				return fmt.Errorf("a profile name or --all is required")
			}
			cfg, err := ssoConfigForProfile(a, args[0])
			if err != nil {
				return err
			}

			if err := a.resolver.Logout(cfg); err != nil {
				return err
			}
			a.manager.Invalidate(args[0])

			fmt.Printf("Logged out of %s\n", cfg.StartURL)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Discard every cached token")
	return cmd
}
