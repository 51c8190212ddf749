package testutil

import (
	"github.com/hupe1980/convoflow/core"
)

// RoutedEvent builds a routed event for the given session/turn targeting an
// agent, with a snapshot of an empty idle context.
func RoutedEvent(sessionID string, turnID int64, agent, text string) core.RoutedEvent {
	snap := NewContextBuilder(sessionID).Build().Snapshot()
	return core.NewRoutedEvent(sessionID, turnID, agent, text, snap)
}

// RoutedEventWithContext builds a routed event carrying the provided context
// snapshot.
func RoutedEventWithContext(ctx *core.ConversationContext, turnID int64, agent, text string) core.RoutedEvent {
	return core.NewRoutedEvent(ctx.SessionID, turnID, agent, text, ctx.Snapshot())
}
