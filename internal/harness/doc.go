// Package harness runs YAML-defined end-to-end scenarios against the
// directive engine.
//
// A scenario seeds clients, groups, and directives into a fresh
// in-memory database, then drives the engine with a script of clock
// advances, events, metric snapshots, and feedback signals. Every
// delivery and suppression is captured into a trace; assertions check
// firing counts and effectiveness scores, and golden files pin the full
// trace byte-for-byte.
//
// Determinism comes from three substitutions: a manual clock, a
// sequential ID generator, and an in-memory capture channel. The same
// scenario always produces the same trace.
package harness
