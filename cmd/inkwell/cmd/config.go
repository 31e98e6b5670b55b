package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/inkwell/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration tools",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the INKWELL_* environment without starting the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if err := cfg.Validate(); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "listen address:  %s\n", cfg.HTTPAddr)
		fmt.Fprintf(out, "storage:         %s\n", schemeOf(cfg.DatabaseURL))
		fmt.Fprintf(out, "redis:           %t\n", cfg.RedisURL != "")
		fmt.Fprintf(out, "session ttl:     %s (idle %s)\n", cfg.SessionTTL, cfg.SessionIdleTimeout)
		fmt.Fprintf(out, "mail webhook:    %t\n", cfg.MailWebhookURL != "")
		fmt.Fprintf(out, "audit webhook:   %t\n", cfg.AuditWebhookURL != "")
		fmt.Fprintf(out, "cors origins:    %d\n", len(cfg.CORSOrigins))
		for _, p := range cfg.Providers {
			fmt.Fprintf(out, "oauth provider:  %s\n", p.Name)
		}
		fmt.Fprintln(out, "configuration OK")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configCheckCmd)
}
