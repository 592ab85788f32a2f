// Package verdict publishes risk verdicts. Every assessment produced by the
// API or the task pipeline becomes a Verdict that is written to a sink (Kafka
// or the audit log); high-risk verdicts are also raised as alerts.
package verdict
