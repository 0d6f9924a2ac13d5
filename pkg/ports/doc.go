// Package ports declares the interfaces between the dialog core and its
// external collaborators: session persistence, distributed locking, prompt
// delivery, and permission checks. Adapters live under internal/adapters and
// internal/transport; the core depends only on these contracts.
package ports
