package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codefionn/threaddeck/internal/backend/claudecli"
)

// checkCmd verifies the Claude Code CLI for the default binary and every
// workspace that overrides it.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the Claude Code CLI installation",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		failed := 0
		check := func(label, bin string) {
			version, err := claudecli.CheckInstallation(cmd.Context(), bin)
			if err != nil {
				failed++
				fmt.Fprintf(out, "✗ %s: %v\n", label, err)
				return
			}
			fmt.Fprintf(out, "✓ %s: %s\n", label, version)
		}

		check("default", cfg.ClaudeBin)
		for _, ws := range cfg.Workspaces {
			if ws.ClaudeBin == "" || ws.ClaudeBin == cfg.ClaudeBin {
				continue
			}
			check(ws.Name, ws.ClaudeBin)
		}

		if failed > 0 {
			return fmt.Errorf("%d installation check(s) failed", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
