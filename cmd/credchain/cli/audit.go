package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/credchain/credchain/internal/audit"
)

// RegisterAuditCommands adds audit journal commands.
func RegisterAuditCommands(root *cobra.Command) {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the tamper-evident audit journal",
	}

	auditCmd.AddCommand(newAuditVerifyCmd())

	root.AddCommand(auditCmd)
}

func newAuditVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit journal's hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			if a.auditLogger == nil || a.auditLogger.DB() == nil {
				fmt.Println("Auditing is disabled (no audit_log_path configured).")
				return nil
			}

			valid, count, err := audit.Verify(a.auditLogger.DB())
			if err != nil {
				return err
			}
			if !valid {
				return fmt.Errorf("audit chain INVALID after %d record(s)", count)
			}

			fmt.Printf("Audit chain valid: %d record(s)\n", count)
			return nil
		},
	}
}
