// Package panel talks to the upstream subscription-management panel.
//
// Invariants:
// - Every request carries a bearer token obtained from a TokenCache or injected on the context.
// - Concurrent callers racing past an expired token share one credential exchange.
// - Failures are reported as *AuthError, *UpstreamError or *TransportError, never retried.
//
// Usage:
//
//	exchanger := panel.NewPasswordExchanger(baseURL, "admin", "secret", nil)
//	tokens, _ := panel.NewTokenCache(exchanger)
//	client, _ := panel.NewClient(baseURL, tokens)
//	user, err := client.User(ctx, "alice")
//	_, _ = user, err
package panel
