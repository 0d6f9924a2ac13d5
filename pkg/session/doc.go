// Package session provides per-identity serialization and caching for
// dialog sessions. The Manager guarantees that all interpreter operations
// for a single identity run one at a time, optionally coordinating across
// replicas through a distributed locker.
package session
