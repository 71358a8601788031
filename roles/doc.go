// Package roles implements the dual role encoding used by the idgate engine.
//
// A role set is either a set of role names or a bitmask over a name→bit
// registry. The two representations are tagged and mutually exclusive:
// every comparison dispatches on the tag and refuses cross-encoding
// arguments with [ErrEncodingMismatch] instead of coercing.
package roles
