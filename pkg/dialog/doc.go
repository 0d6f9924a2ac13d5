// Package dialog defines the domain model of the dialog engine: immutable
// chains of typed steps, the mutable per-conversation session, the prompts
// the interpreter hands to transports, and the error taxonomy shared by the
// builder, the interpreter, and the stores.
package dialog
