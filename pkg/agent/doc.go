// Package agent runs conversation states through an LLM tool loop.
//
// Invariants:
// - A State is a closed union of user, assistant, tool and system messages.
// - Agent runs are serialized per session lane through commandqueue and
//   bounded by a shared worker budget.
// - Model failures never escape the LLM runner: timeouts are retried, then
//   the run ends with an apology turn.
//
// Usage:
//
//	registry := agent.NewRegistry()
//	registry.Register(agent.TypeResearch, runner)
//	invoker := agent.NewInvoker(agent.InvokerConfig{Registry: registry, Queue: queue})
//	state, err := invoker.Invoke(ctx, agent.TypeResearch, agent.NewState(agent.UserMessage{Content: "hello"}))
package agent
