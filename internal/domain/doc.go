// Package domain defines the data model for the directive automation
// engine: directives (trigger → data → action → delivery rules), clients
// and groups, the append-only event and metric streams, and firing records.
//
// Types here carry no behavior beyond validation and small pure helpers;
// storage lives in internal/store and evaluation in internal/engine.
package domain
