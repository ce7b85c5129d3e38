// Package logx configures dosebox's structured logging.
//
// Components log through a small value type (logx.Logger) on top of zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON, one event per line
//   - Sinks and level can be swapped at runtime via Service.Apply
package logx
