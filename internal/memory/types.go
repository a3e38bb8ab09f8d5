package memory

import "time"

// Tier separates recent conversation turns from durable user facts.
// A record's tier is fixed at creation; qualifying messages produce a
// second LONG_TERM record instead of promoting the first.
type Tier int

const (
	TierShortTerm Tier = 1
	TierLongTerm  Tier = 2
)

func (t Tier) String() string {
	switch t {
	case TierShortTerm:
		return "short_term"
	case TierLongTerm:
		return "long_term"
	default:
		return "unknown"
	}
}

type Record struct {
	ID           int64
	Owner        string
	Tier         Tier
	Content      string
	Emotion      string
	Importance   float64
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int
}

type Stats struct {
	ShortTerm int
	LongTerm  int
	Cached    int
	NewestAt  time.Time
}
