// Package security implements the Security Evaluator (C9): an ordered rule
// engine that assesses sandbox containers against YAML-authored policies
// and maintains each container's running risk score.
//
// A Policy is an ordered list of Rules; each Rule conjunctively evaluates a
// list of Conditions against a container's extracted attributes
// (image_name, image_tag, registry, label[name], user, command; env[name],
// port, volume and capability are not extracted and read as empty) and, on
// match,
// executes its Actions in order. A block action short-circuits the
// remaining actions for that rule but not subsequent rules.
//
// Evaluation is deterministic for a given (container snapshot, policy set)
// and idempotent: re-evaluating never duplicates an open violation record
// for the same (rule, container) pair.
package security
