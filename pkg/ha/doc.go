// Package ha implements the HA Controller (C10): single-lease-key leader
// election over the Coordination Store, a dependency health monitor with
// circuit breakers per probe, and component-specific failover orchestration.
//
// The lease bookkeeping follows a generate/validate/revoke pattern against a
// TTL-keyed record, and the health monitor follows a ticker-driven heartbeat
// loop, both re-targeted from an in-memory map onto CAS operations against
// the Coordination Store so every replica observes the same lease state.
package ha
