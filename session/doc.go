// Package session persists the logical identity of a logged-in device in
// Redis: one record per session carrying the current and previous refresh
// token hashes, the user's role payload, and lifecycle timestamps.
//
// Refresh rotation and reuse detection are single atomic check-and-set
// operations (WATCH/MULTI with bounded retry) so two concurrent refreshes
// can never both observe the same token as current. Invalidation is soft:
// the record keeps its TTL so revoked sessions stay distinguishable from
// unknown ones until natural expiry garbage-collects them.
package session
