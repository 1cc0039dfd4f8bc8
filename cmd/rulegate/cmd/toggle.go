package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var enableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a rule by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleEnabled(args[0], true)
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a rule by id",
	Long: `Disable a rule without deleting it. A disabled rule is kept in the
rules file but ignored by prompt rendering and tool-call checks.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleEnabled(args[0], false)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a rule by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		svc, err := newRuleService(cfg, newLogger(cfg))
		if err != nil {
			return err
		}
		removed, err := svc.Delete(args[0])
		if err != nil {
			return err
		}
		if !removed {
			fmt.Fprintf(os.Stderr, "rule %s not found\n", args[0])
			os.Exit(1)
		}
		fmt.Printf("deleted rule %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)
	rootCmd.AddCommand(deleteCmd)
}

func setRuleEnabled(id string, enabled bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := newRuleService(cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	found, err := svc.SetEnabled(id, enabled)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(os.Stderr, "rule %s not found\n", id)
		os.Exit(1)
	}
	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	fmt.Printf("rule %s %s\n", id, state)
	return nil
}
