package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "pgdesk"

// Topics builds pgdesk topic names under a prefix.
//
//	topics := mqtt.NewTopics("pgdesk")
//	topics.Event("terminal.data")
//	// Returns: "pgdesk/terminal/data"
type Topics struct {
	Prefix string
}

// NewTopics returns Topics for prefix, trimming surrounding slashes.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: pgdesk/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.Prefix)
}

// Event maps a dotted event name to a topic.
//
// Example: query.executed -> pgdesk/query/executed
func (t Topics) Event(event string) string {
	return fmt.Sprintf("%s/%s", t.Prefix, strings.ReplaceAll(event, ".", "/"))
}

// AllEvents returns a pattern matching every pgdesk topic.
//
// Pattern: pgdesk/#
func (t Topics) AllEvents() string {
	return t.Prefix + "/#"
}
