// Package editor connects editor plugins to the session over MQTT.
//
// The editor publishes its mode on vimrgb/editor/mode, either as plain
// text ("i") or as JSON ({"mode":"i","previous":"n"}), and asks for a
// theme reload on vimrgb/editor/reload. The bridge publishes a retained
// session snapshot on vimrgb/session/status and one message per handled
// request on vimrgb/layout/applied.
package editor
