// Package ingest drains analytics results from the inbound queue into the
// destination tables.
//
// Delivery is at-least-once, so every write path is idempotent: each of
// the three destination tables is written delete-then-insert in its own
// transaction, and the queue message is deleted only after all three
// succeeded. A message that fails anywhere stays visible and is retried on
// redelivery. Messages of any other type are never touched.
package ingest
