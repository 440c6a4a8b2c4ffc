// Package logx configures notifyd's structured logging.
//
// The package wraps zerolog in a small value type (logx.Logger) so that:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON-structured
//   - The console can be moved to stderr when stdout carries a protocol (MCP stdio)
//   - Levels and sinks can be swapped at runtime on config reload
package logx
