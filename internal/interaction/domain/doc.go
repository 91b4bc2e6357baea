// Package domain defines the core entities and rules for live interaction
// sessions.
//
// The model is centered around a few concepts:
//
// # Session
//
// A Session is one live or historical turn-based encounter. It owns the
// lifecycle status (idle, live, paused, completed), the initiative order,
// the current turn pointer, and the durable snapshot used for recovery.
//
// # Initiative
//
// The initiative order is fixed when a session goes live. Turn advancement
// moves a pointer through the order; a wrap from the last entry back to the
// first increments the round. Rollback and skip move the pointer, they never
// reorder entries.
//
// # Participants
//
// Participants track the live combat state of each entity in the encounter:
// hit points, position, conditions, inventory view, and the capability list
// used to validate declared actions. Combat state here is independent of any
// persistent character sheet.
//
// # Events and turn records
//
// Every mutation appends an immutable event; each closed turn produces a
// turn record. Rollback tombstones trailing records rather than deleting
// them, so the journal stays auditable.
package domain
