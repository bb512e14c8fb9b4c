// Package api implements the local HTTP control API for vimrgb.
//
// Endpoints under /api/v1:
//   - GET  /health         service and component health (503 when degraded)
//   - GET  /metrics        runtime, session and pool statistics
//   - GET  /status         session snapshot
//   - GET  /modes          modes defined by the loaded theme
//   - GET  /devices        devices of the current generation
//   - GET  /layouts/{mode} resolved layout for one mode
//   - GET  /history        recent apply history (when the database is enabled)
//   - POST /mode           queue a mode change, body {"mode": "insert"}
//   - POST /reload         reload the theme and re-enumerate hardware
//   - GET  /ws             WebSocket stream (channels layout.applied, session.status)
//
// The API is meant for local tooling and status bars. It has no
// authentication and binds to loopback by default.
package api
