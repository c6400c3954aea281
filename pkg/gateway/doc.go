// Package gateway serves the dashboard: panel proxy routes behind a
// token middleware, the chat API with a websocket stream, and a
// pass-through content proxy.
//
// Invariants:
// - Every /api/marzban route runs with a panel token on its context;
//   failure to acquire one answers 503 with detail and summary.
// - Upstream rejections keep their status and flattened detail.
// - /api/chat routes are rate limited per client IP.
//
// Usage:
//
//	srv, _ := gateway.NewServer(gateway.Config{...})
//	go srv.ListenAndServe()
//	defer srv.Shutdown(ctx)
package gateway
