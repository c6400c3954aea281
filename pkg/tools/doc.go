// Package tools holds the operations the assistant may invoke on a user's behalf.
//
// Invariants:
// - Tool names are unique within a Registry.
// - Arguments are schema-validated before a handler runs.
// - Dispatch never panics and never returns an error; failures are Results with OK false.
// - A guest Toolset contains no mutating or identity-bound tool.
//
// Usage:
//
//	reg, _ := tools.NewDefaultRegistry(client, catalog, tools.AccountOptions{}, logger)
//	identified, _ := reg.Toolset(tools.AudienceIdentified, tools.IdentifiedTools...)
//	res := identified.Dispatch(ctx, "get_user_status", map[string]interface{}{"userName": "alice"})
//	_ = res
package tools
