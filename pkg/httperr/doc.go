// Package httperr defines the closed set of HTTP error kinds used at the
// API boundary. Each error carries a status code, a stable user-facing
// message, and optionally an application-specific code; the underlying
// cause is kept for logging and never rendered to callers.
package httperr
