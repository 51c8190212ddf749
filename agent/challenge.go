package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/convoflow/core"
)

// ChallengeAdapter pushes back when the user reports being stuck or frames a
// situation as impossible. It reframes the obstacle and records it as an
// insight so later turns can refer back to it.
type ChallengeAdapter struct {
	BaseAdapter
}

// NewChallengeAdapter constructs the stock challenge adapter.
func NewChallengeAdapter() *ChallengeAdapter {
	a := &ChallengeAdapter{BaseAdapter: NewBaseAdapter("Challenge")}
	a.SetDescription("Challenges limiting assumptions and reframes obstacles")
	return a
}

// Process implements Adapter.
func (a *ChallengeAdapter) Process(_ context.Context, ev core.RoutedEvent) core.AgentReply {
	return a.Memoize(ev, func() core.AgentReply {
		text := strings.TrimSpace(ev.Text)
		lower := strings.ToLower(text)

		insights := map[string]string{"obstacle": strings.TrimRight(text, ".!?")}

		var reply string
		switch {
		case strings.Contains(lower, "can't"), strings.Contains(lower, "impossible"):
			reply = "You're telling me it can't be done. What would need to be true for it to become possible?"
		case strings.Contains(lower, "stuck"):
			reply = "Being stuck usually means one assumption is doing too much work. Which one would you drop first?"
		default:
			reply = fmt.Sprintf("What makes %q hard, specifically? Name the smallest part you could tackle now.", text)
		}

		return core.NewAgentReply(ev, a.Name(), reply, insights)
	})
}
