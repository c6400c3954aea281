// Package session keeps the live chat sessions of dashboard clients.
//
// Invariants:
// - A client has at most one live session, bound to one identity.
// - Opening with a different identity discards the old session.
// - Busy sessions are never evicted by the idle sweep.
//
// Usage:
//
//	mgr, _ := session.NewManager(factory, 30*time.Minute, logger)
//	s, created, _ := mgr.Open(ctx, "browser-1", agent.Identity{Username: "ali"})
//	sweeper, _ := session.NewSweeper(mgr, "@every 5m", logger)
//	_ = sweeper.Start()
package session
