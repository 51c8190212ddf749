// Package agent contains the adapter contract plus first-class adapter
// implementations for ConvoFlow's specialized conversational capabilities.
// The package focuses on three concerns:
//
//  1. The uniform Adapter contract and base plumbing (BaseAdapter) including
//     idempotent handling of redelivered events
//  2. The closed set of stock adapters (GoalSetting, Reflection, Challenge,
//     Context) implementing deterministic rule-based conversation logic
//  3. A model-backed adapter (ModelAdapter) delegating reply generation to
//     any model.Model implementation
//
// Design principles:
//   - No hidden global state – adapters are registered on an explicit
//     Registry object injected at orchestrator construction
//   - Uniform failure policy – adapters never panic or drop a turn; internal
//     errors surface as replies with an explicit error marker
//   - Single writer – adapters never touch the context store; they only read
//     the immutable snapshot carried inside the routed event
package agent
