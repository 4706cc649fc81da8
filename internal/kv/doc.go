// Package kv provides the persistent key-value stores behind the referral SDK.
//
// Every backend implements Store: string values under string keys, durable
// across process restarts (except Memory).
//
// # Atomic commits
//
// SetMany and Remove apply all of their keys or none of them. The referral
// link and the registered user are each two keys, and a partial write would
// leave a referral code without a referrer id (or a user id without its
// code). Backends commit multi-key writes in one unit:
//   - SQLite: a single transaction
//   - Redis: a MULTI/EXEC pipeline
//   - Memory: one critical section
//
// # Backends
//
//   - SQLite: the default on-device store (WAL mode, schema migrations via user_version)
//   - Redis: for hosts that share SDK state across processes
//   - Memory: tests and throwaway CLI sessions
package kv
