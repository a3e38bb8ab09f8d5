package bus

import "time"

type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	// Typing asks the channel to show a typing indicator instead of
	// delivering text. Content is ignored when set.
	Typing bool
}
