// Package alerting evaluates threshold rules over the destination tables
// and tracks the lifecycle of the alerts they raise.
//
// An alert that fires while an ACTIVE history row already exists for the
// same rule is a no-op: one open incident per rule, acknowledged and
// resolved by operators, never auto-resolved. Metric computation is
// delegated to the Metrics interface so the SQL stays in the repository
// layer.
package alerting
