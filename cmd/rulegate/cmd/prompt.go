package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rulegate/rulegate/internal/domain/rule"
)

var promptScope string

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Render the prompt-instruction block for a scope",
	Long: `Render the USER RULES block that would be injected into an agent's
system prompt for the given scope. Prints nothing when no enabled rule
contributes an instruction.

Examples:
  rulegate prompt
  rulegate prompt --scope email`,
	RunE: runPrompt,
}

func init() {
	rootCmd.AddCommand(promptCmd)
	promptCmd.Flags().StringVar(&promptScope, "scope", "global", "request scope (global, chat, email)")
}

func runPrompt(cmd *cobra.Command, args []string) error {
	scope, err := rule.ParseScope(promptScope)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := newRuleService(cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	fmt.Print(svc.PromptInstructions(scope))
	return nil
}
