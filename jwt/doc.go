// Package jwt signs and verifies the two token kinds minted by the idgate
// engine: access tokens bound to a session, and login step capsules that
// carry multi-step authentication state between requests without a
// server-side pending-login table. Both are signed (HS256 or Ed25519) and
// self-expiring; the step capsule is tamper-evident by construction.
package jwt
