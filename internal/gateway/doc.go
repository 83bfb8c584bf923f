// Package gateway runs UI-supplied SQL against the embedded engine.
//
// Every call opens its own connection (Connect), runs one statement
// verbatim (Execute) and closes the connection again, so concurrent callers
// never share connection state. Statement failures are data: Execute
// always returns a Result, and a failed Result carries the engine's error
// text instead of rows.
//
// Two wire formats are supported:
//
//   - pipe (v1): every column of every row as key|value, all joined with
//     "|" and no row delimiter. Multi-row results and values containing "|"
//     cannot be split apart again.
//   - json (v2): {"rows":[{"col":"value"|null,...}],"error":"..."}, with
//     columns kept in result-set order.
//
// pgx types never leave this package.
package gateway
