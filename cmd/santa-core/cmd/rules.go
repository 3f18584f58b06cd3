package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/santa-policy/core/internal/adapter/outbound/celrule"
	"github.com/santa-policy/core/internal/adapter/outbound/ruledb"
	"github.com/santa-policy/core/internal/domain/execrule"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and upsert execution rules",
}

var (
	ruleKind    string
	ruleValue   string
	ruleState   string
	ruleMessage string
	ruleURL     string
	ruleCEL     string
)

var rulesUpsertCmd = &cobra.Command{
	Use:   "upsert",
	Short: "Upsert a single execution rule",
	RunE:  runRulesUpsert,
}

var rulesLookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Resolve an identifier to its matching rule",
	RunE:  runRulesLookup,
}

var rulesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every stored rule as JSON",
	RunE:  runRulesExport,
}

func init() {
	for _, c := range []*cobra.Command{rulesUpsertCmd, rulesLookupCmd} {
		c.Flags().StringVar(&ruleKind, "kind", "", "identifier kind (binary-hash, cdhash, signing-id, certificate-hash, team-id)")
		c.Flags().StringVar(&ruleValue, "value", "", "identifier value")
	}
	rulesUpsertCmd.Flags().StringVar(&ruleState, "state", "", "rule state (Allow, Block, SilentBlock, AllowCompiler, CEL, Remove, ...)")
	rulesUpsertCmd.Flags().StringVar(&ruleMessage, "message", "", "custom block message")
	rulesUpsertCmd.Flags().StringVar(&ruleURL, "url", "", "custom block URL")
	rulesUpsertCmd.Flags().StringVar(&ruleCEL, "cel", "", "CEL expression (required when --state=CEL)")

	rulesCmd.AddCommand(rulesUpsertCmd, rulesLookupCmd, rulesExportCmd)
	rootCmd.AddCommand(rulesCmd)
}

func openRuleStore() (*ruledb.Store, error) {
	cfg := santaViper
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	evaluator, err := celrule.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("create CEL evaluator: %w", err)
	}
	store, err := ruledb.Open(cfg.RuleDBPath, nil, evaluator)
	if err != nil {
		return nil, fmt.Errorf("open execution-rule store: %w", err)
	}
	return store, nil
}

func runRulesUpsert(cmd *cobra.Command, args []string) error {
	store, err := openRuleStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rule := execrule.Rule{
		IdentifierKind:  execrule.Kind(ruleKind),
		IdentifierValue: ruleValue,
		State:           execrule.State(ruleState),
		CustomMessage:   ruleMessage,
		CustomURL:       ruleURL,
		CELExpression:   ruleCEL,
	}

	result, err := store.Upsert(cmd.Context(), []execrule.Rule{rule}, execrule.CleanupNone)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	if len(result.Errors) > 0 {
		for _, e := range result.Errors {
			fmt.Fprintln(os.Stderr, e)
		}
		if result.Inserted == 0 {
			return fmt.Errorf("rule rejected")
		}
	}
	fmt.Printf("upserted %d rule(s)\n", result.Inserted)
	return nil
}

func runRulesLookup(cmd *cobra.Command, args []string) error {
	store, err := openRuleStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ids := execrule.IdentifierSet{}
	switch execrule.Kind(ruleKind) {
	case execrule.KindBinaryHash:
		ids.BinaryHash = ruleValue
	case execrule.KindCDHash:
		ids.CDHash = ruleValue
	case execrule.KindSigningID:
		ids.SigningID = ruleValue
	case execrule.KindCertificateHash:
		ids.CertificateHash = ruleValue
	case execrule.KindTeamID:
		ids.TeamID = ruleValue
	default:
		return fmt.Errorf("unrecognized --kind %q", ruleKind)
	}

	rule, err := store.Lookup(cmd.Context(), ids)
	if err != nil {
		return fmt.Errorf("lookup: %w", err)
	}
	if rule == nil {
		fmt.Println("no matching rule")
		return nil
	}
	enc, err := json.MarshalIndent(rule, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
}

func runRulesExport(cmd *cobra.Command, args []string) error {
	store, err := openRuleStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rules, err := store.RetrieveAll(context.Background())
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	enc, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
}
