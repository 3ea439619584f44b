package pipeline

import (
	"fmt"

	"github.com/docuflow/backend/internal/domain/policy"
	"github.com/docuflow/backend/internal/infrastructure/config"
	"github.com/shopspring/decimal"
)

// BuildPolicyEngine converts the configured ruleset into a policy engine.
// Config amounts are strings to keep TOML exact; they are parsed into
// decimals here, and a malformed ruleset fails startup instead of silently
// approving everything.
func BuildPolicyEngine(cfg config.PolicyConfig) (*policy.Engine, error) {
	rules := make([]policy.RuleConfig, 0, len(cfg.Rules))
	for i, raw := range cfg.Rules {
		rule := policy.RuleConfig{
			Type:         policy.RuleType(raw.Type),
			ActionOnFail: policy.ActionOnFail(raw.ActionOnFail),
			Vendors:      raw.Vendors,
			MaxEntries:   raw.MaxEntries,
		}

		var err error
		if rule.Threshold, err = parseAmount(raw.Threshold); err != nil {
			return nil, fmt.Errorf("policy rule %d: invalid threshold %q: %w", i+1, raw.Threshold, err)
		}
		if rule.Epsilon, err = parseAmount(raw.Epsilon); err != nil {
			return nil, fmt.Errorf("policy rule %d: invalid epsilon %q: %w", i+1, raw.Epsilon, err)
		}
		if rule.MinTaxRate, err = parseAmount(raw.MinTaxRate); err != nil {
			return nil, fmt.Errorf("policy rule %d: invalid min_tax_rate %q: %w", i+1, raw.MinTaxRate, err)
		}
		if rule.MaxTaxRate, err = parseAmount(raw.MaxTaxRate); err != nil {
			return nil, fmt.Errorf("policy rule %d: invalid max_tax_rate %q: %w", i+1, raw.MaxTaxRate, err)
		}

		rules = append(rules, rule)
	}
	return policy.NewEngine(rules)
}

func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}
