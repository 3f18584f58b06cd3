package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/santa-policy/core/internal/domain/execrule"
)

// staticRuleDoc is the dict-shaped overlay document: identifier value maps
// directly to a rule body, with the identifier's kind given by which
// top-level section it appears under.
type staticRuleDoc struct {
	CDHash            map[string]staticRuleBody `yaml:"cdhash"`
	BinarySHA256      map[string]staticRuleBody `yaml:"binary_sha256"`
	SigningID         map[string]staticRuleBody `yaml:"signing_id"`
	CertificateSHA256 map[string]staticRuleBody `yaml:"certificate_sha256"`
	TeamID            map[string]staticRuleBody `yaml:"team_id"`
}

type staticRuleBody struct {
	State         string `yaml:"state"`
	CustomMessage string `yaml:"custom_message"`
	CustomURL     string `yaml:"custom_url"`
	CELExpression string `yaml:"cel_expression"`
}

// LoadStaticRules parses the dict-shaped static-rules overlay file at path
// into execrule.Rule values with IsStatic set. A missing path is not an
// error: it yields an empty overlay.
func LoadStaticRules(path string) ([]execrule.Rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read static rules: %w", err)
	}

	var doc staticRuleDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse static rules: %w", err)
	}

	var rules []execrule.Rule
	rules = appendSection(rules, execrule.KindCDHash, doc.CDHash)
	rules = appendSection(rules, execrule.KindBinaryHash, doc.BinarySHA256)
	rules = appendSection(rules, execrule.KindSigningID, doc.SigningID)
	rules = appendSection(rules, execrule.KindCertificateHash, doc.CertificateSHA256)
	rules = appendSection(rules, execrule.KindTeamID, doc.TeamID)
	return rules, nil
}

func appendSection(rules []execrule.Rule, kind execrule.Kind, section map[string]staticRuleBody) []execrule.Rule {
	for identifier, body := range section {
		rules = append(rules, execrule.Rule{
			IdentifierValue: identifier,
			IdentifierKind:  kind,
			State:           execrule.State(body.State),
			CustomMessage:   body.CustomMessage,
			CustomURL:       body.CustomURL,
			CELExpression:   body.CELExpression,
			IsStatic:        true,
		})
	}
	return rules
}
