package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rulegate/rulegate/internal/domain/rule"
)

var (
	listScope       string
	listEnabledOnly bool
	listAsJSON      bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rules",
	Long: `List rules from the rules file.

Examples:
  rulegate list
  rulegate list --scope email
  rulegate list --enabled --json`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listScope, "scope", "", "filter by scope (global, chat, email)")
	listCmd.Flags().BoolVar(&listEnabledOnly, "enabled", false, "show only enabled rules")
	listCmd.Flags().BoolVar(&listAsJSON, "json", false, "print rules as JSON")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	svc, err := newRuleService(cfg, logger)
	if err != nil {
		return err
	}

	var scope *rule.Scope
	if listScope != "" {
		s, err := rule.ParseScope(listScope)
		if err != nil {
			return err
		}
		scope = &s
	}

	rules := svc.List(scope, listEnabledOnly)

	if listAsJSON {
		return printJSON(rules)
	}

	if len(rules) == 0 {
		fmt.Println("no rules stored")
		return nil
	}
	for _, r := range rules {
		state := "enabled"
		if !r.Enabled {
			state = "disabled"
		}
		fmt.Printf("%s  [%s, %s]  %s\n", r.ID, r.Scope, state, ruleSummary(r))
		fmt.Printf("    %q\n", r.RawText)
	}
	return nil
}
