// Package delivery implements outbound delivery channels for assembled
// directive payloads. Channels are interchangeable behind the engine's
// DeliveryChannel interface: Slack for production, console for local
// runs, and an in-memory capture channel for tests.
package delivery
