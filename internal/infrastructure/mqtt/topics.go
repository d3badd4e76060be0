package mqtt

import "strings"

// DefaultTopicPrefix roots every topic when no prefix is configured.
const DefaultTopicPrefix = "motioncore"

// Topics builds Motion Core MQTT topics under a configurable prefix.
// Using these helpers keeps topic naming consistent across publishers and
// subscribers.
//
//	topics := mqtt.NewTopics("studio")
//	topics.DeviceLinear() // "studio/device/command/linear"
type Topics struct {
	prefix string
}

// NewTopics creates a builder rooted at prefix. Surrounding slashes are
// trimmed and an empty prefix selects DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

func (t Topics) join(parts ...string) string {
	return t.Prefix() + "/" + strings.Join(parts, "/")
}

// =============================================================================
// Device Topics
// =============================================================================

// DeviceLinear carries linear move commands to an external actuator bridge.
//
// Example: motioncore/device/command/linear
func (t Topics) DeviceLinear() string {
	return t.join("device", "command", "linear")
}

// DeviceStop carries stop commands to an external actuator bridge.
//
// Example: motioncore/device/command/stop
func (t Topics) DeviceStop() string {
	return t.join("device", "command", "stop")
}

// =============================================================================
// Control Topics
// =============================================================================

// Command returns the topic for a remote control command.
//
// Example: motioncore/command/analyze
func (t Topics) Command(name string) string {
	return t.join("command", name)
}

// AllCommands matches every remote control command.
//
// Pattern: motioncore/command/+
func (t Topics) AllCommands() string {
	return t.join("command", "+")
}

// CommandName extracts the command name from a topic matched by AllCommands.
// It returns "" for topics outside the command tree.
func (t Topics) CommandName(topic string) string {
	name, ok := strings.CutPrefix(topic, t.join("command")+"/")
	if !ok || strings.Contains(name, "/") {
		return ""
	}
	return name
}

// PlaybackState is the retained playback status topic.
//
// Example: motioncore/playback/state
func (t Topics) PlaybackState() string {
	return t.join("playback", "state")
}

// AnalysisCompleted carries analysis results.
//
// Example: motioncore/analysis/completed
func (t Topics) AnalysisCompleted() string {
	return t.join("analysis", "completed")
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus is the retained online/offline status topic, also used for
// the Last Will.
//
// Example: motioncore/system/status
func (t Topics) SystemStatus() string {
	return t.join("system", "status")
}

// AllTopics matches every Motion Core topic.
// Use with caution - this receives ALL traffic.
//
// Pattern: motioncore/#
func (t Topics) AllTopics() string {
	return t.Prefix() + "/#"
}
