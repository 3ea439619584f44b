package policy

// OverallResult classifies a proposal after all rules ran
type OverallResult string

const (
	ResultApproved       OverallResult = "APPROVED"
	ResultRequiresReview OverallResult = "REQUIRES_REVIEW"
	ResultRejected       OverallResult = "REJECTED"
)

// Decision is the full outcome of a policy evaluation, including every rule
// result so the decision can be audited and replayed.
type Decision struct {
	Overall OverallResult `json:"overall"`
	Results []Evaluation  `json:"results"`
}

// Engine evaluates an ordered list of rules against a proposal. Evaluation
// has no side effects: the same (proposal, ruleset) always yields the same
// decision.
type Engine struct {
	rules []Rule
}

// NewEngine builds an engine from rule configuration. Unknown rule types
// and invalid parameters are rejected here, before any evaluation runs.
func NewEngine(configs []RuleConfig) (*Engine, error) {
	rules := make([]Rule, 0, len(configs))
	for _, cfg := range configs {
		rule, err := buildRule(cfg)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return &Engine{rules: rules}, nil
}

// Evaluate runs every rule in order and aggregates:
//   - any fail whose action is reject          => REJECTED
//   - any fail without a reject action, or any
//     warn whose action is require_review      => REQUIRES_REVIEW
//   - otherwise                                => APPROVED
func (e *Engine) Evaluate(input Input) Decision {
	results := make([]Evaluation, 0, len(e.rules))
	rejected := false
	review := false

	for _, rule := range e.rules {
		eval := rule.Evaluate(input)
		results = append(results, eval)

		switch eval.Result {
		case ResultFail:
			if eval.ActionOnFail == ActionReject {
				rejected = true
			} else {
				review = true
			}
		case ResultWarn:
			if eval.ActionOnFail == ActionRequireReview {
				review = true
			}
		}
	}

	overall := ResultApproved
	switch {
	case rejected:
		overall = ResultRejected
	case review:
		overall = ResultRequiresReview
	}

	return Decision{Overall: overall, Results: results}
}

// RuleCount returns the number of configured rules
func (e *Engine) RuleCount() int {
	return len(e.rules)
}
