package mqtt

// TopicPrefix is the root of every VimRGB topic.
const TopicPrefix = "vimrgb"

// Topics builds VimRGB topic names.
//
//	vimrgb/system/status    retained online/offline (LWT)
//	vimrgb/editor/mode      editor mode changes (inbound)
//	vimrgb/editor/reload    theme reload requests (inbound)
//	vimrgb/session/status   retained session snapshot
//	vimrgb/layout/applied   one message per handled request
type Topics struct{}

// SystemStatus is the retained service liveness topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// EditorMode receives mode changes from the editor plugin.
func (Topics) EditorMode() string {
	return TopicPrefix + "/editor/mode"
}

// EditorReload receives theme reload requests.
func (Topics) EditorReload() string {
	return TopicPrefix + "/editor/reload"
}

// AllEditor matches every inbound editor topic.
func (Topics) AllEditor() string {
	return TopicPrefix + "/editor/+"
}

// SessionStatus is the retained session snapshot topic.
func (Topics) SessionStatus() string {
	return TopicPrefix + "/session/status"
}

// LayoutApplied carries one result per handled layout request.
func (Topics) LayoutApplied() string {
	return TopicPrefix + "/layout/applied"
}

// KeyboardFrames returns the default LED frame prefix used by the MQTT
// hardware backend.
func (Topics) KeyboardFrames() string {
	return TopicPrefix + "/leds"
}
