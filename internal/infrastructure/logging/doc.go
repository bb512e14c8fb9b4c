// Package logging builds the slog logger shared by the daemon and the CLI.
//
// Every entry carries service and version fields. The run command hands each
// subsystem a child tagged with its component name (mqtt, session, editor,
// history, api, theme).
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// At debug level every mode change, queue drain and hardware write is traced.
package logging
