package main

import (
	"fmt"

	"compliance/engine-service/internal/rules"

	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Validate or load escalation rule files",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check a rule file without touching the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := rules.LoadFile(args[0])
		if err != nil {
			return err
		}
		for _, rule := range loaded {
			fmt.Fprintf(cmd.OutOrStdout(), "ok  %-32s %-7s tiers=%d active=%t\n", rule.Name, rule.Trigger.Type, len(rule.Tiers), rule.Active)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d rules valid\n", len(loaded))
		return nil
	},
}

var rulesLoadCmd = &cobra.Command{
	Use:   "load [file]",
	Short: "Create or update the rules in a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := rules.LoadFile(args[0])
		if err != nil {
			return err
		}
		seedCfg := cfg
		seedCfg.RulesFile = ""
		a, err := newApp(cmd.Context(), seedCfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		result, err := rules.Seed(cmd.Context(), a.store, loaded)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %d, updated %d\n", result.Created, result.Updated)
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesValidateCmd, rulesLoadCmd)
}
