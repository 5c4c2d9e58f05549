package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

const redacted = "********"

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the effective settings",
		Args:  cobra.NoArgs,
		RunE:  runCheck,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shown := *cfg
	if cfg.Admin != nil {
		admin := *cfg.Admin
		if admin.Password != nil {
			pw := redacted
			admin.Password = &pw
		}
		shown.Admin = &admin
	}

	out, err := json.MarshalIndent(&shown, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK: %s\n%s\n", cfg.OriginalFilePath(), out)
	return nil
}
