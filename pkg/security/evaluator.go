package security

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/ciorch/pkg/events"
	"github.com/cuemby/ciorch/pkg/log"
	"github.com/cuemby/ciorch/pkg/orcherr"
	"github.com/cuemby/ciorch/pkg/store"
	"github.com/cuemby/ciorch/pkg/types"
)

// Quarantiner is the narrow slice of the Container Pool the evaluator needs
// to act on a quarantine/isolate/terminate action, kept as an interface so
// this package does not import pkg/pool (pool imports security for its
// admission check, so the reverse import would be a cycle).
type Quarantiner interface {
	Quarantine(ctx context.Context, containerID string) error
}

// Evaluator runs a container snapshot through an ordered policy set and
// maintains its running SecurityProfile.
type Evaluator struct {
	store    store.Store
	bus      *events.Broker
	sandbox  Quarantiner
	logger   zerolog.Logger
	policies map[string]*Policy
}

// NewEvaluator builds an Evaluator over the given loaded policy set. The
// sandbox controller is optional; when nil, quarantine/isolate/terminate
// actions make no sandbox call, while their events are still published.
func NewEvaluator(st store.Store, bus *events.Broker, sandbox Quarantiner, policies []*Policy) *Evaluator {
	byID := make(map[string]*Policy, len(policies))
	for _, p := range policies {
		byID[p.ID] = p
	}
	return &Evaluator{
		store:    st,
		bus:      bus,
		sandbox:  sandbox,
		logger:   log.WithComponent("security"),
		policies: byID,
	}
}

// Verdict is the outcome of evaluating one container against a policy set:
// the recomputed profile plus every enabled rule that matched this pass,
// including rules whose violation was already open from an earlier pass.
type Verdict struct {
	Profile *types.SecurityProfile
	Fired   []Rule
}

// Blocked reports whether any rule that fired this pass carries a block
// action, the signal callers on the admission path (pool.create, the
// execute_workflow processor) use to refuse a sandbox outright rather than
// merely log or alert.
func (v *Verdict) Blocked() bool {
	for _, r := range v.Fired {
		for _, a := range r.Actions {
			if a == ActionBlock {
				return true
			}
		}
	}
	return false
}

// Evaluate runs every enabled rule from policyIDs, in priority order,
// against attrs. Matching rules execute their actions in order, with a
// block action short-circuiting the remainder of that rule's actions (not
// subsequent rules). The container's risk score and status are recomputed
// from the resulting open-violation and scan state and persisted.
//
// Re-running Evaluate against an unchanged snapshot is idempotent: an
// already-open violation for a (rule, container) pair is not duplicated,
// and its side effects do not re-fire.
func (e *Evaluator) Evaluate(ctx context.Context, c *types.Container, attrs Attrs, policyIDs []string) (*Verdict, error) {
	rules, err := e.orderedRules(policyIDs)
	if err != nil {
		return nil, err
	}

	var fired []Rule
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		ok, err := matches(rule.Conditions, attrs)
		if err != nil {
			return nil, orcherr.Internal(err, "evaluate rule %s", rule.ID)
		}
		if !ok {
			continue
		}
		fired = append(fired, rule)

		inserted, err := e.recordViolation(ctx, rule, c.ID)
		if err != nil {
			return nil, err
		}
		if !inserted {
			// already open from a prior pass: skip re-firing side effects
			continue
		}
		if err := e.runActions(ctx, rule, c, attrs); err != nil {
			return nil, err
		}
	}

	profile, err := e.recomputeProfile(ctx, c, attrs, policyIDs)
	if err != nil {
		return nil, err
	}
	return &Verdict{Profile: profile, Fired: fired}, nil
}

// orderedRules flattens the named policies' rules, disabled ones included
// (Evaluate skips those), sorted by
// Priority ascending (lower runs first), ties broken by policy then rule
// order as authored.
func (e *Evaluator) orderedRules(policyIDs []string) ([]Rule, error) {
	var rules []Rule
	for _, id := range policyIDs {
		p, ok := e.policies[id]
		if !ok {
			return nil, orcherr.NotFound("security policy %s not loaded", id)
		}
		rules = append(rules, p.Rules...)
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	return rules, nil
}

func (e *Evaluator) recordViolation(ctx context.Context, rule Rule, containerID string) (bool, error) {
	v := &types.SecurityViolation{
		RuleID:      rule.ID,
		ContainerID: containerID,
		Severity:    types.Severity(rule.Severity),
		DetectedAt:  time.Now(),
	}
	inserted, err := e.store.InsertSecurityViolation(ctx, v)
	if err != nil {
		return false, orcherr.DependencyUnavailable(err, "insert security violation for rule %s", rule.ID)
	}
	return inserted, nil
}

// runActions executes a rule's actions in order. ActionBlock stops the
// remaining actions in this rule's list; it does not prevent later rules
// in the policy from evaluating.
func (e *Evaluator) runActions(ctx context.Context, rule Rule, c *types.Container, attrs Attrs) error {
	for _, action := range rule.Actions {
		switch action {
		case ActionLog:
			e.logger.Warn().Str("rule", rule.ID).Str("container", c.ID).Str("severity", rule.Severity).Msg("security rule matched")
		case ActionAlert:
			e.publish(events.EventSecurityViolation, c.ID, rule)
		case ActionScan:
			// a scan is scheduled asynchronously by the caller (job queue);
			// the evaluator only flags that one is due.
			e.logger.Info().Str("rule", rule.ID).Str("container", c.ID).Msg("scan requested")
		case ActionIsolate, ActionQuarantine:
			if e.sandbox != nil {
				if err := e.sandbox.Quarantine(ctx, c.ID); err != nil {
					return orcherr.DependencyUnavailable(err, "quarantine container %s", c.ID)
				}
			}
			e.publish(events.EventContainerQuaran, c.ID, rule)
		case ActionTerminate:
			if e.sandbox != nil {
				if err := e.sandbox.Quarantine(ctx, c.ID); err != nil {
					return orcherr.DependencyUnavailable(err, "terminate container %s", c.ID)
				}
			}
		case ActionPatch:
			e.logger.Info().Str("rule", rule.ID).Str("container", c.ID).Msg("patch requested")
		case ActionBlock:
			e.publish(events.EventSecurityViolation, c.ID, rule)
			return nil // short-circuits remaining actions in this rule
		}
	}
	return nil
}

func (e *Evaluator) publish(t events.EventType, containerID string, rule Rule) {
	e.bus.Publish(&events.Event{
		ID:   uuid.NewString(),
		Type: t,
		Metadata: map[string]string{
			"container_id": containerID,
			"rule_id":      rule.ID,
			"severity":     rule.Severity,
		},
	})
}

// recomputeProfile rebuilds the container's SecurityProfile from its
// currently open violations and recorded scans and persists it.
func (e *Evaluator) recomputeProfile(ctx context.Context, c *types.Container, attrs Attrs, policyIDs []string) (*types.SecurityProfile, error) {
	existing, err := e.store.GetSecurityProfile(ctx, c.ID)
	if err != nil && orcherr.KindOf(err) != orcherr.KindNotFound {
		return nil, orcherr.DependencyUnavailable(err, "load security profile for %s", c.ID)
	}

	var unresolved []types.SecurityViolation
	var scans []types.SecurityScan
	var mostRecentFindings []byte
	if existing != nil {
		for _, v := range existing.Violations {
			if !v.Resolved {
				unresolved = append(unresolved, v)
			}
		}
		scans = existing.Scans
		if len(scans) > 0 {
			mostRecentFindings = scans[len(scans)-1].Findings
		}
	}

	score := RiskScore(RiskInputs{
		UnresolvedViolations: len(unresolved),
		ScanFindings:         mostRecentFindings,
		Privileged:           attrsPrivileged(attrs),
		RunAsRoot:            attrs.runAsRoot,
		WritableRootfs:       !attrs.readOnly,
	})

	status := types.SecurityStatusSecure
	hasCritical := hasSeverity(unresolved, types.SeverityCritical)
	hasHigh := hasSeverity(unresolved, types.SeverityHigh)
	switch {
	case score >= 80 || hasCritical:
		status = types.SecurityStatusCritical
	case score >= 50 || hasHigh:
		status = types.SecurityStatusWarning
	}

	profile := &types.SecurityProfile{
		ContainerID: c.ID,
		PolicyIDs:   policyIDs,
		Violations:  unresolved,
		Scans:       scans,
		RiskScore:   score,
		Status:      status,
		UpdatedAt:   time.Now(),
	}
	if err := e.store.UpsertSecurityProfile(ctx, profile); err != nil {
		return nil, orcherr.DependencyUnavailable(err, "persist security profile for %s", c.ID)
	}
	return profile, nil
}

// RecordScan persists an externally-reported scan result and recomputes
// the container's risk score from it plus its currently open violations.
// Used by the API surface's POST /api/security/scan, which has no live
// runtime attrs to evaluate against — unlike Evaluate, the privileged/
// runAsRoot/writable-rootfs terms of the risk formula are held at their
// last-known value (zero, absent a prior full Evaluate) rather than
// recomputed.
func (e *Evaluator) RecordScan(ctx context.Context, scan *types.SecurityScan) (*types.SecurityProfile, error) {
	if err := e.store.InsertSecurityScan(ctx, scan); err != nil {
		return nil, orcherr.DependencyUnavailable(err, "insert security scan for %s", scan.ContainerID)
	}

	existing, err := e.store.GetSecurityProfile(ctx, scan.ContainerID)
	if err != nil && orcherr.KindOf(err) != orcherr.KindNotFound {
		return nil, orcherr.DependencyUnavailable(err, "load security profile for %s", scan.ContainerID)
	}

	var unresolved []types.SecurityViolation
	if existing != nil {
		for _, v := range existing.Violations {
			if !v.Resolved {
				unresolved = append(unresolved, v)
			}
		}
	}

	score := RiskScore(RiskInputs{UnresolvedViolations: len(unresolved), ScanFindings: scan.Findings})
	status := types.SecurityStatusSecure
	switch {
	case score >= 80 || hasSeverity(unresolved, types.SeverityCritical):
		status = types.SecurityStatusCritical
	case score >= 50 || hasSeverity(unresolved, types.SeverityHigh):
		status = types.SecurityStatusWarning
	}

	scans := []types.SecurityScan{*scan}
	policyIDs := []string{}
	if existing != nil {
		scans = append(existing.Scans, *scan)
		policyIDs = existing.PolicyIDs
	}

	profile := &types.SecurityProfile{
		ContainerID: scan.ContainerID,
		PolicyIDs:   policyIDs,
		Violations:  unresolved,
		Scans:       scans,
		RiskScore:   score,
		Status:      status,
		UpdatedAt:   time.Now(),
	}
	if err := e.store.UpsertSecurityProfile(ctx, profile); err != nil {
		return nil, orcherr.DependencyUnavailable(err, "persist security profile for %s", scan.ContainerID)
	}
	return profile, nil
}

func attrsPrivileged(a Attrs) bool {
	return a.privileged
}

func hasSeverity(violations []types.SecurityViolation, s types.Severity) bool {
	for _, v := range violations {
		if v.Severity == s {
			return true
		}
	}
	return false
}
