// Package observability builds the zap logger shared by every component
// and carries request-scoped fields through contexts.
package observability
