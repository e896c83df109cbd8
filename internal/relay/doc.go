// Package relay is the business boundary for perch's notification relay.
// It owns event deduplication, the global paging cooldown, the escalation
// policy that turns an incident into a ping level and message, per-channel
// thread continuity, and the Service that drives deliveries to a Sink.
package relay
