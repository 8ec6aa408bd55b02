package security

import (
	"testing"

	"github.com/cuemby/ciorch/pkg/types"
)

func TestEvaluateOperators(t *testing.T) {
	c := &types.Container{ImageDigest: "registry.cuemby.internal/acme/widgets:1.4.2"}
	attrs := NewAttrs(c, false, true, false, []string{"npm", "run", "build"})

	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals match", Condition{Attribute: "image_tag", Operator: OpEquals, Value: "1.4.2"}, true},
		{"equals mismatch", Condition{Attribute: "image_tag", Operator: OpEquals, Value: "latest"}, false},
		{"not_equals", Condition{Attribute: "image_tag", Operator: OpNotEquals, Value: "latest"}, true},
		{"contains", Condition{Attribute: "command", Operator: OpContains, Value: "run"}, true},
		{"not_contains", Condition{Attribute: "command", Operator: OpNotContains, Value: "test"}, true},
		{"starts_with", Condition{Attribute: "image_name", Operator: OpStartsWith, Value: "widg"}, true},
		{"ends_with", Condition{Attribute: "registry", Operator: OpEndsWith, Value: "internal"}, true},
		{"matches regex", Condition{Attribute: "image_tag", Operator: OpMatches, Value: `^\d+\.\d+\.\d+$`}, true},
		{"greater_than", Condition{Attribute: "image_tag", Operator: OpGreaterThan, Value: "999"}, false},
		{"in", Condition{Attribute: "registry", Operator: OpIn, Values: []string{"registry.cuemby.internal", "docker.io"}}, true},
		{"not_in", Condition{Attribute: "registry", Operator: OpNotIn, Values: []string{"docker.io"}}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := evaluate(tc.cond, attrs)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if got != tc.want {
				t.Errorf("evaluate(%+v) = %v, want %v", tc.cond, got, tc.want)
			}
		})
	}
}

func TestEvaluateUnknownOperator(t *testing.T) {
	c := &types.Container{}
	attrs := NewAttrs(c, false, true, false, nil)
	_, err := evaluate(Condition{Attribute: "user", Operator: "bogus"}, attrs)
	if err == nil {
		t.Fatal("expected error for unknown operator")
	}
}

func TestMatchesRequiresAllConditions(t *testing.T) {
	c := &types.Container{ImageDigest: "docker.io/acme/widgets:latest"}
	attrs := NewAttrs(c, true, false, false, nil)

	conds := []Condition{
		{Attribute: "user", Operator: OpEquals, Value: "root"},
		{Attribute: "image_tag", Operator: OpEquals, Value: "latest"},
	}
	ok, err := matches(conds, attrs)
	if err != nil {
		t.Fatalf("matches: %v", err)
	}
	if !ok {
		t.Fatal("expected conjunction of true conditions to match")
	}

	conds[1].Value = "1.0"
	ok, err = matches(conds, attrs)
	if err != nil {
		t.Fatalf("matches: %v", err)
	}
	if ok {
		t.Fatal("expected mismatch on second condition to fail the conjunction")
	}
}
