package security

import "testing"

func TestRiskScoreWeightsAndCaps(t *testing.T) {
	cases := []struct {
		name string
		in   RiskInputs
		want int
	}{
		{"clean", RiskInputs{}, 0},
		{"two unresolved violations", RiskInputs{UnresolvedViolations: 2}, 20},
		{"privileged", RiskInputs{Privileged: true}, 50},
		{"root plus writable rootfs", RiskInputs{RunAsRoot: true, WritableRootfs: true}, 30},
		{
			"critical scan finding",
			RiskInputs{ScanFindings: []byte(`{"critical":1}`)},
			20,
		},
		{
			"everything capped at 100",
			RiskInputs{
				UnresolvedViolations: 10,
				ScanFindings:         []byte(`{"critical":5,"high":5,"medium":5}`),
				Privileged:           true,
				RunAsRoot:            true,
				WritableRootfs:       true,
			},
			100,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RiskScore(tc.in)
			if got != tc.want {
				t.Errorf("RiskScore(%+v) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestRiskScoreIgnoresMalformedFindings(t *testing.T) {
	got := RiskScore(RiskInputs{ScanFindings: []byte("not json")})
	if got != 0 {
		t.Errorf("expected malformed findings to be ignored, got %d", got)
	}
}
