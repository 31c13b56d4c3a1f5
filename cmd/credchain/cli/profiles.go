package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/credchain/credchain/internal/config"
	"github.com/credchain/credchain/internal/profile"
)

// RegisterProfileCommands adds profile inspection commands.
func RegisterProfileCommands(root *cobra.Command) {
	profilesCmd := &cobra.Command{
		Use:     "profiles",
		Aliases: []string{"profile", "p"},
		Short:   "Inspect AWS shared config/credentials profiles",
	}

	profilesCmd.AddCommand(newProfilesListCmd())
	profilesCmd.AddCommand(newProfilesValidateCmd())
	profilesCmd.AddCommand(newProfilesSetCmd())
	profilesCmd.AddCommand(newProfilesRemoveCmd())

	root.AddCommand(profilesCmd)
}

func newProfilesListCmd() *cobra.Command {
	var showAll bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List resolvable profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			ids := a.manager.Identifiers()
			invalid := a.manager.InvalidProfiles()
			if len(ids) == 0 && (!showAll || len(invalid) == 0) {
				fmt.Println("No resolvable profiles found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROFILE\tKIND\tREGION\tLOGIN NEEDED")
			for _, id := range ids {
				kind := ""
				if prov := a.manager.Provider(id.ProfileName); prov != nil {
					kind = string(prov.Kind())
				}
				needsLogin := ""
				if a.manager.UserActionRequired(id.ProfileName) {
					needsLogin = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id.ProfileName, kind, id.DefaultRegion, needsLogin)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if showAll && len(invalid) > 0 {
				names := make([]string, 0, len(invalid))
				for name := range invalid {
					names = append(names, name)
				}
				sort.Strings(names)

				fmt.Println("\nInvalid profiles:")
				for _, name := range names {
					fmt.Printf("  %s\n", invalid[name])
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showAll, "all", "a", false, "Include invalid profiles with their reasons")
	return cmd
}

func newProfilesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the profile files and report every problem",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			invalid := a.manager.InvalidProfiles()
			valid := a.manager.Identifiers()

			fs, err := a.store.Load()
			if err != nil {
				return err
			}
			for _, d := range fs.Diagnostics {
				fmt.Printf("warning: %s\n", d)
			}

			fmt.Printf("%d profile(s) resolvable, %d invalid\n", len(valid), len(invalid))
			if len(invalid) == 0 {
				return nil
			}

			names := make([]string, 0, len(invalid))
			for name := range invalid {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Println()
			for _, name := range names {
				fmt.Printf("  %s\n", invalid[name])
			}
			return fmt.Errorf("%d invalid profile(s)", len(invalid))
		},
	}
}

func newProfilesSetCmd() *cobra.Command {
	var useCredentialsFile bool

	cmd := &cobra.Command{
		Use:   "set <name> <key=value>...",
		Short: "Create or replace a profile section",
		Long: `Create or replace a profile section with the given properties. Writes to
the config file by default; --credentials targets the credentials file
instead. Unrelated sections and comments are preserved.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			props := make(map[string]string, len(args)-1)
			for _, pair := range args[1:] {
				key, value, ok := strings.Cut(pair, "=")
				if !ok || key == "" {
					return fmt.Errorf("invalid property %q, expected key=value", pair)
				}
				props[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
			}

			configPath, credentialsPath := config.ProfileFilePaths()
			writer := profile.NewWriter(configPath, profile.KindConfig)
			if useCredentialsFile {
				writer = profile.NewWriter(credentialsPath, profile.KindCredentials)
			}

			if err := writer.WriteProfile(name, props); err != nil {
				return err
			}
			fmt.Printf("Profile %q written to %s\n", name, writer.Path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&useCredentialsFile, "credentials", false, "Write to the credentials file instead of the config file")
	return cmd
}

func newProfilesRemoveCmd() *cobra.Command {
	var useCredentialsFile bool

	cmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a profile section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, credentialsPath := config.ProfileFilePaths()
			writer := profile.NewWriter(configPath, profile.KindConfig)
			if useCredentialsFile {
				writer = profile.NewWriter(credentialsPath, profile.KindCredentials)
			}

			if err := writer.DeleteProfile(args[0]); err != nil {
				return err
			}
			fmt.Printf("Profile %q removed from %s\n", args[0], writer.Path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&useCredentialsFile, "credentials", false, "Remove from the credentials file instead of the config file")
	return cmd
}
