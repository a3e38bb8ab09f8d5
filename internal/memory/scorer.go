package memory

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	baseScore          = 0.5
	highKeywordBonus   = 0.15
	mediumKeywordBonus = 0.08
	lengthBonus        = 0.1
	longLengthBonus    = 0.15
	questionBonus      = 0.1
	firstPersonBonus   = 0.05

	summaryMaxRunes = 200
)

// Score rates how memorable a message is, in [0, 1]. It is a pure
// function of the text and the detected emotion label; emotion labels
// outside the weight table still earn the small default bonus.
func Score(text, emotion string) float64 {
	score := baseScore
	content := strings.ToLower(text)

	for _, w := range highImportanceWords {
		if strings.Contains(content, w) {
			score += highKeywordBonus
		}
	}
	for _, w := range mediumImportanceWords {
		if strings.Contains(content, w) {
			score += mediumKeywordBonus
		}
	}

	if emotion != "" {
		if w, ok := emotionWeights[emotion]; ok {
			score += w
		} else {
			score += defaultEmotionWeight
		}
	}

	// Note: the > 200 branch is unreachable; every message that long
	// already matched > 100, so all long messages get the smaller bonus.
	// Long-standing behavior, do not reorder.
	if n := utf8.RuneCountInString(content); n > 100 {
		score += lengthBonus
	} else if n > 200 {
		score += longLengthBonus
	}

	if strings.Contains(content, "?") || containsAny(content, questionWords) {
		score += questionBonus
	}

	for _, p := range firstPersonMarkers {
		if strings.Contains(content, p) {
			score += firstPersonBonus
		}
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Summarize builds the date-stamped digest stored as a LONG_TERM record.
func Summarize(content, emotion string, ts time.Time) string {
	parts := make([]string, 0, 3)
	parts = append(parts, "["+ts.Format("2006-01-02")+"]")

	if emotion != "" {
		parts = append(parts, "User felt "+emotion)
	}

	if utf8.RuneCountInString(content) > summaryMaxRunes {
		runes := []rune(content)
		content = string(runes[:summaryMaxRunes]) + "..."
	}
	parts = append(parts, "Said: "+content)

	return strings.Join(parts, " - ")
}
