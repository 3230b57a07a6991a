// Package logging wraps zap with context-aware methods for gated.
//
// Loggers carry correlation fields (run id, request id) extracted from the
// context on every call, so a stage's log lines can be tied back to the
// webhook request or CLI invocation that triggered the run.
//
// Logs are written to stderr: stdout is reserved for live stage output and
// the CLI verdict.
package logging
