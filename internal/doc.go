// Package internal holds token and identifier primitives shared by the
// root engine: random id generation, refresh token framing, and code
// hashing. Nothing here is part of the public API.
package internal
