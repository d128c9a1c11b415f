// Package session issues and verifies the single durable session token each
// user holds. Tokens are opaque UUIDv4 strings, created on first login or
// registration and never rotated by later logins.
package session
