// Package mailbox manages the lifecycle of external mailbox connections:
// authorization, code exchange, push-notification watch registration,
// persistence and teardown. Connections are keyed by organization and email.
package mailbox
