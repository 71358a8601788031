// Package idgate is the identity and access core for resource-oriented
// APIs: it authenticates machine clients and human users independently,
// drives a multi-step login state machine, manages session and refresh
// token lifecycles with rotation and reuse detection, and projects every
// authorized request into a read-only [ReqInfo] snapshot consumed by route
// handlers.
//
// The package is the public surface. It exposes [Engine], [Builder],
// [Config], and value types; Redis record encodings and token framing live
// under internal packages and are never part of the API.
//
// Long-lived rows (clients, users, emails) stay in the caller's database
// behind the [Directory] interface. Short-lived state (sessions,
// verification codes, step attempt counters) lives in Redis and expires on
// its own; the engine never needs an out-of-band garbage collector.
//
// Engine methods are safe for concurrent use after [Builder.Build]. The
// two operations that demand a true atomic check-and-set — refresh token
// rotation and verification code consumption — run as optimistic Redis
// transactions with bounded retry, so two concurrent refreshes can never
// both observe the same token as unconsumed.
package idgate
