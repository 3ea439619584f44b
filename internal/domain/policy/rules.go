package policy

import (
	"fmt"
	"strings"

	"github.com/docuflow/backend/internal/domain/ledger"
	"github.com/docuflow/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// RuleType identifies one kind of guardrail rule
type RuleType string

const (
	RuleTypeThreshold     RuleType = "threshold"
	RuleTypeVendorAllow   RuleType = "vendor_allowlist"
	RuleTypeVendorDeny    RuleType = "vendor_denylist"
	RuleTypeBalance       RuleType = "balance"
	RuleTypeTaxRate       RuleType = "tax_rate"
	RuleTypeMaxEntryCount RuleType = "max_entry_count"
)

// RuleResult is the outcome of one rule evaluation
type RuleResult string

const (
	ResultPass RuleResult = "pass"
	ResultFail RuleResult = "fail"
	ResultWarn RuleResult = "warn"
	ResultSkip RuleResult = "skip"
)

// ActionOnFail configures what a failing rule does to the overall outcome
type ActionOnFail string

const (
	ActionReject        ActionOnFail = "reject"
	ActionRequireReview ActionOnFail = "require_review"
)

// DefaultBalanceEpsilon is the tolerated debit/credit difference, in
// currency units, before the balance rule fails.
var DefaultBalanceEpsilon = decimal.NewFromFloat(0.01)

// RuleConfig is the configuration-supplied definition of one rule
type RuleConfig struct {
	Type         RuleType     `mapstructure:"type" json:"type"`
	ActionOnFail ActionOnFail `mapstructure:"action_on_fail" json:"action_on_fail"`
	// Threshold is the maximum total amount for the threshold rule
	Threshold decimal.Decimal `mapstructure:"threshold" json:"threshold,omitempty"`
	// Vendors is the allow or deny list for the vendor rules
	Vendors []string `mapstructure:"vendors" json:"vendors,omitempty"`
	// Epsilon overrides the balance tolerance; zero means the default
	Epsilon decimal.Decimal `mapstructure:"epsilon" json:"epsilon,omitempty"`
	// MinTaxRate / MaxTaxRate bound the tax-rate sanity range, as fractions
	MinTaxRate decimal.Decimal `mapstructure:"min_tax_rate" json:"min_tax_rate,omitempty"`
	MaxTaxRate decimal.Decimal `mapstructure:"max_tax_rate" json:"max_tax_rate,omitempty"`
	// MaxEntries is the line-count cap for the max_entry_count rule
	MaxEntries int `mapstructure:"max_entries" json:"max_entries,omitempty"`
}

// Input is everything a rule may inspect. Evaluation is a pure function of
// this input, so a decision can be replayed for audit at any time.
type Input struct {
	Proposal *ledger.Proposal
	// Vendor is the counterparty name extracted from the document; empty
	// when extraction found none.
	Vendor string
	// TaxRate is the extracted tax rate as a fraction (0.1 = 10%); nil when
	// the document carries no tax information.
	TaxRate *decimal.Decimal
}

// Evaluation is the outcome of one rule against one input
type Evaluation struct {
	Rule         RuleType     `json:"rule"`
	Result       RuleResult   `json:"result"`
	ActionOnFail ActionOnFail `json:"action_on_fail"`
	Message      string       `json:"message,omitempty"`
}

// Rule evaluates one guardrail against a proposal
type Rule interface {
	Type() RuleType
	Evaluate(input Input) Evaluation
}

// ruleConstructors is the closed registry of known rule types. Unknown
// types are rejected when the engine is constructed, not at evaluation time.
var ruleConstructors = map[RuleType]func(RuleConfig) (Rule, error){
	RuleTypeThreshold:     newThresholdRule,
	RuleTypeVendorAllow:   newVendorAllowRule,
	RuleTypeVendorDeny:    newVendorDenyRule,
	RuleTypeBalance:       newBalanceRule,
	RuleTypeTaxRate:       newTaxRateRule,
	RuleTypeMaxEntryCount: newMaxEntryCountRule,
}

// buildRule constructs a rule from configuration
func buildRule(cfg RuleConfig) (Rule, error) {
	ctor, ok := ruleConstructors[cfg.Type]
	if !ok {
		return nil, shared.NewDomainError("UNKNOWN_RULE_TYPE",
			fmt.Sprintf("Unknown policy rule type %q", cfg.Type))
	}
	if cfg.ActionOnFail != "" && cfg.ActionOnFail != ActionReject && cfg.ActionOnFail != ActionRequireReview {
		return nil, shared.NewDomainError("INVALID_RULE_ACTION",
			fmt.Sprintf("Invalid action_on_fail %q for rule %q", cfg.ActionOnFail, cfg.Type))
	}
	return ctor(cfg)
}

func actionOrDefault(cfg RuleConfig) ActionOnFail {
	if cfg.ActionOnFail == "" {
		return ActionRequireReview
	}
	return cfg.ActionOnFail
}

// thresholdRule fails when the proposal total exceeds the configured amount
type thresholdRule struct {
	action    ActionOnFail
	threshold decimal.Decimal
}

func newThresholdRule(cfg RuleConfig) (Rule, error) {
	if cfg.Threshold.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_RULE_PARAMS", "Threshold rule requires a positive threshold")
	}
	return &thresholdRule{action: actionOrDefault(cfg), threshold: cfg.Threshold}, nil
}

func (r *thresholdRule) Type() RuleType { return RuleTypeThreshold }

func (r *thresholdRule) Evaluate(input Input) Evaluation {
	total := input.Proposal.TotalDebit()
	if total.GreaterThan(r.threshold) {
		return Evaluation{
			Rule:         r.Type(),
			Result:       ResultFail,
			ActionOnFail: r.action,
			Message:      fmt.Sprintf("total %s exceeds threshold %s", total, r.threshold),
		}
	}
	return Evaluation{Rule: r.Type(), Result: ResultPass, ActionOnFail: r.action}
}

// vendorAllowRule fails when the vendor is not on the allowlist
type vendorAllowRule struct {
	action  ActionOnFail
	vendors map[string]struct{}
}

func newVendorAllowRule(cfg RuleConfig) (Rule, error) {
	if len(cfg.Vendors) == 0 {
		return nil, shared.NewDomainError("INVALID_RULE_PARAMS", "Vendor allowlist rule requires at least one vendor")
	}
	return &vendorAllowRule{action: actionOrDefault(cfg), vendors: vendorSet(cfg.Vendors)}, nil
}

func (r *vendorAllowRule) Type() RuleType { return RuleTypeVendorAllow }

func (r *vendorAllowRule) Evaluate(input Input) Evaluation {
	if input.Vendor == "" {
		return Evaluation{Rule: r.Type(), Result: ResultSkip, ActionOnFail: r.action, Message: "no vendor extracted"}
	}
	if _, ok := r.vendors[normalizeVendor(input.Vendor)]; !ok {
		return Evaluation{
			Rule:         r.Type(),
			Result:       ResultFail,
			ActionOnFail: r.action,
			Message:      fmt.Sprintf("vendor %q is not on the allowlist", input.Vendor),
		}
	}
	return Evaluation{Rule: r.Type(), Result: ResultPass, ActionOnFail: r.action}
}

// vendorDenyRule fails when the vendor is on the denylist
type vendorDenyRule struct {
	action  ActionOnFail
	vendors map[string]struct{}
}

func newVendorDenyRule(cfg RuleConfig) (Rule, error) {
	if len(cfg.Vendors) == 0 {
		return nil, shared.NewDomainError("INVALID_RULE_PARAMS", "Vendor denylist rule requires at least one vendor")
	}
	return &vendorDenyRule{action: actionOrDefault(cfg), vendors: vendorSet(cfg.Vendors)}, nil
}

func (r *vendorDenyRule) Type() RuleType { return RuleTypeVendorDeny }

func (r *vendorDenyRule) Evaluate(input Input) Evaluation {
	if input.Vendor == "" {
		return Evaluation{Rule: r.Type(), Result: ResultSkip, ActionOnFail: r.action, Message: "no vendor extracted"}
	}
	if _, ok := r.vendors[normalizeVendor(input.Vendor)]; ok {
		return Evaluation{
			Rule:         r.Type(),
			Result:       ResultFail,
			ActionOnFail: r.action,
			Message:      fmt.Sprintf("vendor %q is on the denylist", input.Vendor),
		}
	}
	return Evaluation{Rule: r.Type(), Result: ResultPass, ActionOnFail: r.action}
}

// balanceRule fails when |sum(debit) - sum(credit)| exceeds the epsilon
type balanceRule struct {
	action  ActionOnFail
	epsilon decimal.Decimal
}

func newBalanceRule(cfg RuleConfig) (Rule, error) {
	epsilon := cfg.Epsilon
	if epsilon.LessThanOrEqual(decimal.Zero) {
		epsilon = DefaultBalanceEpsilon
	}
	return &balanceRule{action: actionOrDefault(cfg), epsilon: epsilon}, nil
}

func (r *balanceRule) Type() RuleType { return RuleTypeBalance }

func (r *balanceRule) Evaluate(input Input) Evaluation {
	diff := input.Proposal.Imbalance()
	if diff.GreaterThan(r.epsilon) {
		return Evaluation{
			Rule:         r.Type(),
			Result:       ResultFail,
			ActionOnFail: r.action,
			Message:      fmt.Sprintf("debits and credits differ by %s (epsilon %s)", diff, r.epsilon),
		}
	}
	return Evaluation{Rule: r.Type(), Result: ResultPass, ActionOnFail: r.action}
}

// taxRateRule warns when the extracted tax rate falls outside the sane range
type taxRateRule struct {
	action ActionOnFail
	min    decimal.Decimal
	max    decimal.Decimal
}

func newTaxRateRule(cfg RuleConfig) (Rule, error) {
	if cfg.MaxTaxRate.LessThanOrEqual(cfg.MinTaxRate) {
		return nil, shared.NewDomainError("INVALID_RULE_PARAMS", "Tax rate rule requires min < max")
	}
	return &taxRateRule{action: actionOrDefault(cfg), min: cfg.MinTaxRate, max: cfg.MaxTaxRate}, nil
}

func (r *taxRateRule) Type() RuleType { return RuleTypeTaxRate }

func (r *taxRateRule) Evaluate(input Input) Evaluation {
	if input.TaxRate == nil {
		return Evaluation{Rule: r.Type(), Result: ResultSkip, ActionOnFail: r.action, Message: "no tax rate extracted"}
	}
	rate := *input.TaxRate
	if rate.LessThan(r.min) || rate.GreaterThan(r.max) {
		return Evaluation{
			Rule:         r.Type(),
			Result:       ResultWarn,
			ActionOnFail: r.action,
			Message:      fmt.Sprintf("tax rate %s outside sane range [%s, %s]", rate, r.min, r.max),
		}
	}
	return Evaluation{Rule: r.Type(), Result: ResultPass, ActionOnFail: r.action}
}

// maxEntryCountRule fails when the proposal has too many lines
type maxEntryCountRule struct {
	action ActionOnFail
	max    int
}

func newMaxEntryCountRule(cfg RuleConfig) (Rule, error) {
	if cfg.MaxEntries <= 0 {
		return nil, shared.NewDomainError("INVALID_RULE_PARAMS", "Max entry count rule requires a positive max_entries")
	}
	return &maxEntryCountRule{action: actionOrDefault(cfg), max: cfg.MaxEntries}, nil
}

func (r *maxEntryCountRule) Type() RuleType { return RuleTypeMaxEntryCount }

func (r *maxEntryCountRule) Evaluate(input Input) Evaluation {
	if count := len(input.Proposal.Lines); count > r.max {
		return Evaluation{
			Rule:         r.Type(),
			Result:       ResultFail,
			ActionOnFail: r.action,
			Message:      fmt.Sprintf("%d journal lines exceed the maximum of %d", count, r.max),
		}
	}
	return Evaluation{Rule: r.Type(), Result: ResultPass, ActionOnFail: r.action}
}

func vendorSet(vendors []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vendors))
	for _, v := range vendors {
		set[normalizeVendor(v)] = struct{}{}
	}
	return set
}

func normalizeVendor(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
