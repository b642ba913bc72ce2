// Package mlconfig is the human approval channel for ML configuration
// changes. Approving a recommendation rewrites the config artifact in the
// object store; a separate, explicit Apply publishes the reload trigger.
// The two steps are never combined, so an operator controls exactly when
// the ML service picks up new configs.
package mlconfig
