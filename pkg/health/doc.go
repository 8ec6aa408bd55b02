// Package health implements the four sandbox health probe classes the
// CONTAINER_MANAGEMENT queue's health_check job runs against a running
// container: basic liveness (engine-reported container state, checked by
// the caller before any Checker runs), network (an optional labeled
// TCP/HTTP endpoint), filesystem (disk usage via exec), and resources (CPU
// and memory usage via the runtime engine's stats API).
//
// Every Checker implementation returns a Result through the common Checker
// interface so pkg/queue can run an arbitrary subset of them without
// knowing which kind it's looking at. A Status tracks consecutive
// failures/successes across repeated runs, giving the pool three
// consecutive failed passes of grace (DefaultConfig's Retries) before
// quarantining a sandbox, so a single transient check does not evict an
// otherwise healthy container.
package health
