package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/convoflow/core"
)

// ContextAdapter is the fixed routing default. It records what was said and
// asks a clarifying question, keeping the conversation moving when no
// specialized capability matched.
type ContextAdapter struct {
	BaseAdapter
}

// NewContextAdapter constructs the stock context adapter.
func NewContextAdapter() *ContextAdapter {
	a := &ContextAdapter{BaseAdapter: NewBaseAdapter("Context")}
	a.SetDescription("Records context and asks clarifying questions when no specialist matches")
	return a
}

// Process implements Adapter.
func (a *ContextAdapter) Process(_ context.Context, ev core.RoutedEvent) core.AgentReply {
	return a.Memoize(ev, func() core.AgentReply {
		text := strings.TrimSpace(ev.Text)

		insights := map[string]string{"last_topic": strings.TrimRight(text, ".!?")}

		var reply string
		if len(ev.Context.Turns) == 0 {
			reply = fmt.Sprintf("I've noted that. To make sure I follow: what would you like to focus on when you say %q?", text)
		} else {
			reply = "I've noted that. Could you tell me a bit more about what you mean?"
		}

		return core.NewAgentReply(ev, a.Name(), reply, insights)
	})
}
