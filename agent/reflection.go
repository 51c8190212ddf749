package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/convoflow/core"
)

// ReflectionAdapter guides end-of-day reflection. It records what the user
// reports as an insight and deepens the reflection with a follow-up prompt.
type ReflectionAdapter struct {
	BaseAdapter
}

// NewReflectionAdapter constructs the stock reflection adapter.
func NewReflectionAdapter() *ReflectionAdapter {
	a := &ReflectionAdapter{BaseAdapter: NewBaseAdapter("Reflection")}
	a.SetDescription("Guides reflection on what happened and what it means")
	return a
}

// Process implements Adapter.
func (a *ReflectionAdapter) Process(_ context.Context, ev core.RoutedEvent) core.AgentReply {
	return a.Memoize(ev, func() core.AgentReply {
		text := strings.TrimSpace(ev.Text)
		lower := strings.ToLower(text)

		insights := map[string]string{"reflection": strings.TrimRight(text, ".!?")}

		var reply string
		switch {
		case strings.Contains(lower, "went well"), strings.Contains(lower, "proud"):
			reply = "That's worth holding on to. What made it go well, do you think?"
		case strings.Contains(lower, "learned"):
			reply = "A real lesson. How would you apply that tomorrow?"
		case strings.Contains(lower, "grateful"):
			reply = "Gratitude is a good place to end the day. Anything else on your mind?"
		default:
			reply = fmt.Sprintf("Thanks for sharing that. Looking back at %q, what stands out most to you?", text)
		}

		if goal, ok := ev.Context.Insights["goal"]; ok {
			reply += fmt.Sprintf(" And how did today move you toward %q?", goal)
		}

		return core.NewAgentReply(ev, a.Name(), reply, insights)
	})
}
