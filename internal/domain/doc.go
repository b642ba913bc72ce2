// Package domain holds the shared types of the CDC bridge: source
// fragments, assembled conversations, normalized analytics results, alert
// rules and events, and ML config recommendations.
//
// Types here carry no behavior beyond their own invariants. Business logic
// lives in internal/service/*, persistence in internal/repository/postgres.
package domain
