// Package agent runs chat sessions against an LLM provider with tool loops.
//
// Invariants:
// - A session runs at most one turn at a time; a second Send gets ErrBusy.
// - Tool calls run one at a time in engine order. The first failed result
//   ends the turn and its summary is the last message of the turn.
// - A turn never makes more than MaxToolRounds tool round trips.
// - Guest sessions only see the guest manifest and instruction.
//
// Usage:
//
//	factory, _ := agent.NewSessionFactory(agent.FactoryConfig{...})
//	session, _ := factory.NewSession(ctx, agent.Identity{Username: "ali"})
//	_, _ = session.Greet(ctx)
//	msgs, _ := session.Send(ctx, "سرعتم کمه")
//	_ = msgs
package agent
