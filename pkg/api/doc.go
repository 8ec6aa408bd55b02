// Package api implements the orchestrator's API Surface (C11): a bearer
// token authenticated REST and websocket interface over go-chi/chi, plus
// the Delegation Protocol's runner-facing routes (registration,
// assignment polling, status reporting).
//
// Every response under /api uses a single JSON envelope — {success,
// data} on success, {success: false, error: {code, message, details,
// timestamp, request_id}} on failure — with the error kind mapped to an
// HTTP status by statusFor. POST /api/auth/login, GET /health and GET
// /ready are left outside this package's bearer-auth group; HealthServer
// mounts /health and /ready on a separate chi.Router so a load balancer
// can probe them without a token.
//
// Rate limiting is two separate limiterSet instances: one keyed by
// source IP ahead of authentication (POST /api/auth/login), one keyed
// by bearer token behind it (everything else). GET /api/ws upgrades to
// a websocket and bridges the in-process event broker (pkg/events) to
// the client for the lifetime of the connection.
package api
