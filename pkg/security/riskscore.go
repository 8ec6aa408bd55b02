package security

import "encoding/json"

// scanSummary is the expected shape of a SecurityScan's Findings JSON blob:
// a severity-bucketed count, not full per-finding detail (§4.8 only needs
// counts for the risk-score formula).
type scanSummary struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
}

// RiskInputs is the subset of a container's security posture the risk
// score formula consumes.
type RiskInputs struct {
	UnresolvedViolations int
	ScanFindings         []byte // most recent scan's Findings JSON, may be nil
	Privileged           bool
	RunAsRoot            bool
	WritableRootfs       bool
}

// RiskScore computes the §4.8 weighted risk score, capped at 100, from a
// container's current posture.
func RiskScore(in RiskInputs) int {
	score := 10 * in.UnresolvedViolations

	var summary scanSummary
	if len(in.ScanFindings) > 0 {
		_ = json.Unmarshal(in.ScanFindings, &summary)
	}
	score += 20*summary.Critical + 10*summary.High + 5*summary.Medium

	if in.Privileged {
		score += 50
	}
	if in.RunAsRoot {
		score += 20
	}
	if in.WritableRootfs {
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}
