// Package mqtt connects VimRGB Core to an MQTT broker.
//
// The broker carries three kinds of traffic:
//   - editor events (mode changes and reload requests) coming in
//   - session status and per-request results going out
//   - LED frames, when the mqtt hardware backend is selected
//
// The client reconnects automatically, restores subscriptions, and keeps a
// retained online/offline message on vimrgb/system/status using a Last
// Will for crashes.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.EditorMode(), 1,
//	    func(topic string, payload []byte) error {
//	        return handleMode(payload)
//	    })
package mqtt
