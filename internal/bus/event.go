package bus

import "time"

// Event is a notification published on the bus. Kind is a dot-separated
// name such as "db.messages.insert" or "broadcast.typing:c1.typing".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
