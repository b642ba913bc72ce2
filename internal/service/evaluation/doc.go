// Package evaluation measures churn-prediction accuracy against actual
// subscriber churn and turns the gaps into reviewable recommendations.
//
// Nothing here changes ML configuration. Every proposal is stored
// PENDING and waits for an operator decision (service/mlconfig owns the
// approval and apply flow).
package evaluation
