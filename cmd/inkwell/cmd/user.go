package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/inkwell/account"
	"github.com/jmcleod/inkwell/config"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Account administration",
}

var promoteCmd = &cobra.Command{
	Use:   "promote <email>",
	Short: "Grant the admin flag to a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAdmin(cmd, args[0], true)
	},
}

var demoteCmd = &cobra.Command{
	Use:   "demote <email>",
	Short: "Revoke the admin flag and end the user's sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAdmin(cmd, args[0], false)
	},
}

// setAdmin updates the flag on the stored user. Sessions carry the flag
// they were created with, so a demotion also revokes them.
func setAdmin(cmd *cobra.Command, email string, admin bool) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx := cmd.Context()
	repo, err := openRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer repo.Close()

	accounts := account.NewStore(repo, account.WithBcryptCost(cfg.BcryptCost))
	u, err := accounts.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("looking up %s: %w", email, err)
	}
	if _, err := accounts.SetAdmin(ctx, u.ID, admin); err != nil {
		return err
	}
	if !admin {
		be, err := openBackends(ctx, cfg, repo)
		if err != nil {
			return err
		}
		defer be.close()
		if err := be.sessions.DeleteUser(ctx, u.ID); err != nil {
			return fmt.Errorf("revoking sessions: %w", err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s admin=%t\n", u.Email, admin)
	return nil
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(promoteCmd, demoteCmd)
}
