// Package sessionstore provides the durable, versioned store for
// tailoring session documents. Every mutation goes through an atomic,
// optimistically versioned write: a batch either applies in full and
// bumps the version by one, or applies nothing.
package sessionstore
