// Package actions is the command set the UI invokes.
//
// It runs statements against the fixed application database through the
// gateway and forwards keystrokes and geometry to the terminal session.
// Every statement is also recorded in the history store, counted in
// metrics, sent to telemetry and announced as a "query.executed" event.
// Those side channels are optional and never change a statement's result.
package actions
