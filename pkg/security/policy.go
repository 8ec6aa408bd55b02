package security

// EnforcementMode controls how seriously a rule's actions are taken.
type EnforcementMode string

const (
	ModePermissive  EnforcementMode = "permissive"
	ModeDetection   EnforcementMode = "detection"
	ModeEnforcement EnforcementMode = "enforcement"
	ModeBlocking    EnforcementMode = "blocking"
)

// Operator is a condition comparison against an extracted container
// attribute.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpMatches     Operator = "matches"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
)

// Action is a side-effecting response to a matched rule, executed in the
// order listed on the rule.
type Action string

const (
	ActionBlock      Action = "block"
	ActionQuarantine Action = "quarantine"
	ActionAlert      Action = "alert"
	ActionLog        Action = "log"
	ActionScan       Action = "scan"
	ActionIsolate    Action = "isolate"
	ActionTerminate  Action = "terminate"
	ActionPatch      Action = "patch"
)

// Condition is one conjunctive term of a Rule, comparing a named container
// attribute against a value with Operator.
type Condition struct {
	Attribute string   `yaml:"attribute"`
	Operator  Operator `yaml:"operator"`
	Value     string   `yaml:"value"`
	Values    []string `yaml:"values,omitempty"`
}

// Rule is one policy entry: a conjunction of Conditions that, when all
// match, fires an ordered list of Actions.
type Rule struct {
	ID         string          `yaml:"id"`
	Type       string          `yaml:"type"`
	Category   string          `yaml:"category"`
	Severity   string          `yaml:"severity"`
	Target     string          `yaml:"target"`
	Conditions []Condition     `yaml:"conditions"`
	Actions    []Action        `yaml:"actions"`
	Mode       EnforcementMode `yaml:"mode"`
	Enabled    bool            `yaml:"enabled"`
	Priority   int             `yaml:"priority"`
}

// Policy is a named, ordered collection of Rules, authored as YAML and
// loaded by ID per the configured policy set.
type Policy struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Rules []Rule `yaml:"rules"`
}
