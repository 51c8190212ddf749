package agent

import (
	"context"
	"fmt"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/model"
)

// ModelAdapterOptions configure a ModelAdapter.
type ModelAdapterOptions struct {
	// Instruction frames the model's persona for this capability.
	Instruction string

	// HistoryTurns bounds how many prior turns are replayed to the model.
	HistoryTurns int
}

// ModelAdapter delegates reply generation to a model.Model while keeping the
// uniform Adapter contract: timeouts are enforced through the dispatch
// context, and any model error is converted into an error-marked reply so
// the orchestrator can apply its retry policy.
type ModelAdapter struct {
	BaseAdapter
	model model.Model
	opts  ModelAdapterOptions
}

// NewModelAdapter constructs a model-backed adapter registered under name.
func NewModelAdapter(name string, m model.Model, optFns ...func(o *ModelAdapterOptions)) *ModelAdapter {
	opts := ModelAdapterOptions{
		Instruction:  fmt.Sprintf("You are the %s agent in a conversational coaching system. Reply with one short conversational message.", name),
		HistoryTurns: 10,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	a := &ModelAdapter{BaseAdapter: NewBaseAdapter(name), model: m, opts: opts}
	a.SetDescription(fmt.Sprintf("Model-backed agent %s (%s)", name, m.Info().Provider))
	return a
}

// Process implements Adapter.
func (a *ModelAdapter) Process(ctx context.Context, ev core.RoutedEvent) core.AgentReply {
	return a.Memoize(ev, func() core.AgentReply {
		req := model.Request{
			Instructions: a.opts.Instruction,
			Messages:     a.buildMessages(ev),
		}

		respCh, errCh := a.model.Generate(ctx, req)

		var text string
		for {
			select {
			case <-ctx.Done():
				return core.NewErrorReply(ev, a.Name(), ctx.Err())
			case err, ok := <-errCh:
				if ok && err != nil {
					return core.NewErrorReply(ev, a.Name(), err)
				}
				errCh = nil
			case resp, ok := <-respCh:
				if !ok {
					if text == "" {
						return core.NewErrorReply(ev, a.Name(), fmt.Errorf("model returned no reply"))
					}
					return core.NewAgentReply(ev, a.Name(), text, nil)
				}
				if !resp.Partial {
					text = resp.Text
				}
			}
		}
	})
}

// buildMessages replays the bounded turn history followed by the inbound text.
func (a *ModelAdapter) buildMessages(ev core.RoutedEvent) []model.Message {
	turns := ev.Context.Turns
	if len(turns) > a.opts.HistoryTurns {
		turns = turns[len(turns)-a.opts.HistoryTurns:]
	}

	messages := make([]model.Message, 0, len(turns)*2+1)
	for _, t := range turns {
		if t.Status != core.TurnCompleted {
			continue
		}
		messages = append(messages, model.Message{Role: "user", Text: t.Text})
		if t.Reply != "" {
			messages = append(messages, model.Message{Role: "assistant", Text: t.Reply})
		}
	}

	return append(messages, model.Message{Role: "user", Text: ev.Text})
}
