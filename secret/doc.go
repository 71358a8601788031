// Package secret provides argon2id hashing and constant-time verification
// for user passwords and client secrets. Hashes use PHC string format so
// parameters travel with the hash and can be upgraded over time.
package secret
