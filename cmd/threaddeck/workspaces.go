package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/codefionn/threaddeck/internal/workspace"
)

var workspacesCmd = &cobra.Command{
	Use:   "workspaces",
	Short: "List configured workspaces and their Claude homes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		registry := workspace.NewRegistry()
		if err := registry.Sync(cfg.Workspaces); err != nil {
			return err
		}

		list := registry.List()
		if len(list) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No workspaces configured in %s\n", configPath())
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tKIND\tPATH\tCLAUDE HOME")
		for _, info := range list {
			home, err := registry.ClaudeHome(info.ID)
			if err != nil {
				home = "error: " + err.Error()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", info.ID, info.Name, info.Kind, info.Path, home)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(workspacesCmd)
}
