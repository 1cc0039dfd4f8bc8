package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rulegate/rulegate/internal/domain/rule"
	"github.com/rulegate/rulegate/internal/service"
)

var (
	checkScope  string
	checkArgs   []string
	checkAsJSON bool
)

var checkCmd = &cobra.Command{
	Use:   "check <tool>",
	Short: "Evaluate one tool call against the stored rules",
	Long: `Evaluate a proposed tool call against the stored rules and print
the verdict: allow, block, or confirm.

Tool arguments can be supplied with repeated --arg k=v flags. A
confirmation flag like --arg confirmed=true satisfies a confirm
verdict the same way it would at enforcement time.

Exit status is 0 for allow, 2 for block, 3 for confirm.

Examples:
  rulegate check gmail_execute_draft
  rulegate check gmail_execute_draft --arg confirmed=true
  rulegate check gmail_forward_email --scope email --arg to=a@b.com`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkScope, "scope", "global", "request scope (global, chat, email)")
	checkCmd.Flags().StringArrayVar(&checkArgs, "arg", nil, "tool argument as k=v (repeatable)")
	checkCmd.Flags().BoolVar(&checkAsJSON, "json", false, "print the decision as JSON")
}

func runCheck(cmd *cobra.Command, args []string) error {
	tool := args[0]

	scope, err := rule.ParseScope(checkScope)
	if err != nil {
		return err
	}
	toolArgs, err := parseToolArgs(checkArgs)
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

	decision := svc.CheckToolCall(scope, tool, toolArgs)

	if checkAsJSON {
		if err := printJSON(decision); err != nil {
			return err
		}
	} else {
		outcome := service.DecisionOutcome(decision)
		reason := decision.BlockReason
		if reason == "" {
			reason = decision.ConfirmReason
		}
		if reason != "" {
			fmt.Printf("%s: %s\n", outcome, reason)
		} else {
			fmt.Println(outcome)
		}
	}

	switch {
	case !decision.Allowed:
		os.Exit(2)
	case decision.RequiresConfirmation:
		os.Exit(3)
	}
	return nil
}

// parseToolArgs converts repeated k=v flags into a tool argument map.
// Values are kept as strings; confirmation detection accepts string
// forms like "true" and "yes".
func parseToolArgs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --arg %q, expected k=v", p)
		}
		out[k] = v
	}
	return out, nil
}
