// Package job wraps River to provide the durable work queue that decouples
// request acceptance from email delivery. Jobs are persisted in Postgres,
// delivered at least once, and redelivered after a fixed backoff until the
// per-job attempt budget is exhausted. Handlers signal unrecoverable
// failures with Terminal, which cancels the job instead of retrying it.
package job
