// Package runtime implements the dialog interpreter: the state machine that
// starts, advances, recovers and cancels sessions against immutable chains.
// All session mutation happens here, under the session manager's
// per-identity lock.
package runtime
