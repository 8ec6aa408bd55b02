package security

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadPolicies reads one YAML file per ID from dir (named "<id>.yaml") and
// parses it into a Policy. A missing or malformed file for any requested ID
// fails the whole load — the evaluator must not run against a partial
// policy set.
func LoadPolicies(dir string, ids []string) ([]*Policy, error) {
	policies := make([]*Policy, 0, len(ids))
	for _, id := range ids {
		p, err := loadPolicy(filepath.Join(dir, id+".yaml"))
		if err != nil {
			return nil, fmt.Errorf("load policy %s: %w", id, err)
		}
		policies = append(policies, p)
	}
	return policies, nil
}

func loadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
