// Package api implements the HTTP and WebSocket surface the desktop UI
// talks to.
//
// This package provides:
//   - REST endpoints for the query action, terminal keystrokes and resize,
//     engine status, statement history and the greeting
//   - WebSocket hub that relays terminal output and query events, and
//     accepts the same commands as messages
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - Prometheus exposition when metrics are enabled
//
// # Errors As Data
//
// A failed statement is not an HTTP error. The query endpoint returns 200
// with the error text in the encoded result, the same string a caller
// would otherwise have received as rows. Terminal failures collapse to
// {"ok":false} with status 500.
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// The server binds only to the configured host, which defaults to the
// loopback interface. There is no authentication.
package api
