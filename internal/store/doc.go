// Package store provides durable SQLite storage for the automation engine:
// directive definitions, clients and groups, the append-only event and
// metric streams, and firing records.
//
// The cooldown claim, firing record write, and counter increment are a
// single transaction (WriteFiringAtomic) so duplicate fires cannot slip
// through under concurrent ticks for the same client.
package store
