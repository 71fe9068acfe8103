// Package auth provides the authorization primitives shared by the
// laundry API.
//
// This package implements:
//   - The closed catalog of outlet permission keys
//   - Per-role default grants and the override merge policy
//   - Password hashing behind an opaque Hasher interface
//
// Everything here is pure and safe for concurrent use.
package auth
