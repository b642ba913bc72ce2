// Package dispatch hands assembled conversations to the outbound queue and
// owns the processed-ID bookkeeping around the send.
//
// The ordering is deliberate: an id is marked processed only after the
// queue accepted the message, and always before Dispatch returns. A send
// failure leaves the id unmarked so the next cycle retries it; after
// max_send_attempts failures the id is retired to sqs_permanent_failures
// and marked so collect stops rescanning it.
package dispatch
