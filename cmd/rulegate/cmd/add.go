package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rulegate/rulegate/internal/domain/rule"
	"github.com/rulegate/rulegate/internal/service"
)

var (
	addScope   string
	addAsJSON  bool
	addPreview bool
)

var addCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Compile user text into a rule and store it",
	Long: `Compile a free-text user preference into a structured rule and
persist it to the rules file.

Text that does not look like a rule is rejected with a nonzero exit
status. Use --preview to see what a text would compile to without
storing anything.

Examples:
  rulegate add "never send emails"
  rulegate add --scope chat "be concise"
  rulegate add --preview "always show me a draft first"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringVar(&addScope, "scope", "global", "rule scope (global, chat, email)")
	addCmd.Flags().BoolVar(&addAsJSON, "json", false, "print the stored rule as JSON")
	addCmd.Flags().BoolVar(&addPreview, "preview", false, "parse only, do not store")
}

func runAdd(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")

	scope, err := rule.ParseScope(addScope)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	if addPreview {
		result, ok := service.ParsePreview(text, scope)
		if !ok {
			fmt.Fprintln(os.Stderr, "text was not recognized as a rule")
			os.Exit(1)
		}
		return printJSON(result)
	}

	svc, err := newRuleService(cfg, logger)
	if err != nil {
		return err
	}

	result, matched, err := svc.AddFromText(text, scope)
	if err != nil {
		return err
	}
	if !matched {
		fmt.Fprintln(os.Stderr, "text was not recognized as a rule")
		os.Exit(1)
	}

	if addAsJSON {
		return printJSON(result.Rule)
	}
	fmt.Printf("stored rule %s (%s, scope %s)\n", result.Rule.ID, ruleSummary(result.Rule), result.Rule.Scope)
	return nil
}

// ruleSummary renders a short human-readable description of a rule's
// actions for terminal output.
func ruleSummary(r rule.Rule) string {
	parts := make([]string, 0, len(r.Actions))
	for _, a := range r.Actions {
		switch a.Type {
		case rule.ActionPromptInject:
			parts = append(parts, "prompt_inject")
		case rule.ActionBlockTool:
			parts = append(parts, "block "+strings.Join(a.Tools(), ","))
		case rule.ActionConfirmTool:
			parts = append(parts, "confirm "+strings.Join(a.Tools(), ","))
		default:
			parts = append(parts, string(a.Type))
		}
	}
	return strings.Join(parts, "; ")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
