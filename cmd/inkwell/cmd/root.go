package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "inkwell",
	Short: "Inkwell is a blog platform backend",
	Long: `Inkwell serves accounts, sessions, posts, comments and replies over a JSON API.
Configuration is read from INKWELL_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile == "" {
			return nil
		}
		// Variables already set in the environment win over the file.
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("loading %s: %w", envFile, err)
		}
		return nil
	},
}

var envFile string

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "read INKWELL_* variables from a dotenv file")
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
