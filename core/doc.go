// Package core provides the foundational domain types and contracts used by
// ConvoFlow. It defines the core abstractions for:
//
//   - Sessions (one ongoing conversation with lifecycle metadata)
//   - Turns (one inbound message plus its computed reply, with a strict
//     received → routed → completed|failed state machine)
//   - ConversationContext (accumulated state handed to agents as snapshots)
//   - RoutedEvent / AgentReply (envelopes exchanged over the event bus)
//   - ContextStore (pluggable persistence for conversation context)
//   - The error taxonomy shared by the orchestrator and supervisor
//
// The package intentionally keeps implementation concerns (routing, bus
// transport, concrete agents, persistence backends) out of scope, exposing
// small interfaces so higher layers can be swapped independently.
package core
