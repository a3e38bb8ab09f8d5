// Package personality maintains a Big Five profile per user, refreshed from
// conversation history by the language model and blended into the existing
// profile so a single odd session cannot whipsaw the bot's tone.
package personality

import (
	"fmt"
	"strings"
)

// Traits is the stored personality profile. Trait scores live in [0, 1].
type Traits struct {
	Openness          float64 `json:"openness"`
	Conscientiousness float64 `json:"conscientiousness"`
	Extraversion      float64 `json:"extraversion"`
	Agreeableness     float64 `json:"agreeableness"`
	Neuroticism       float64 `json:"neuroticism"`

	CommunicationStyle string `json:"communication_style"`
	EmotionalState     string `json:"emotional_state"`
	// TherapyApproach is set once at onboarding and never overwritten by
	// analysis.
	TherapyApproach string `json:"preferred_therapy_approach"`
}

func DefaultTraits() Traits {
	return Traits{
		Openness:           0.5,
		Conscientiousness:  0.5,
		Extraversion:       0.5,
		Agreeableness:      0.5,
		Neuroticism:        0.5,
		CommunicationStyle: "supportive",
		EmotionalState:     "stable",
		TherapyApproach:    "humanistic",
	}
}

// Analysis is what the model returns for a batch of conversation text.
type Analysis struct {
	Openness           float64 `json:"openness"`
	Conscientiousness  float64 `json:"conscientiousness"`
	Extraversion       float64 `json:"extraversion"`
	Agreeableness      float64 `json:"agreeableness"`
	Neuroticism        float64 `json:"neuroticism"`
	CommunicationStyle string  `json:"communication_style"`
	EmotionalState     string  `json:"emotional_state"`
	Confidence         float64 `json:"confidence_level"`
}

// Merge blends a fresh analysis into the current profile. The old profile
// normally keeps 70% of its weight; a confident analysis (> 0.8) pulls
// harder, a shaky one (< 0.3) barely moves the needle. A nil current
// profile adopts the analysis values outright.
func Merge(current *Traits, analysis Analysis) Traits {
	if current == nil {
		t := DefaultTraits()
		t.Openness = clamp01(analysis.Openness)
		t.Conscientiousness = clamp01(analysis.Conscientiousness)
		t.Extraversion = clamp01(analysis.Extraversion)
		t.Agreeableness = clamp01(analysis.Agreeableness)
		t.Neuroticism = clamp01(analysis.Neuroticism)
		if analysis.CommunicationStyle != "" {
			t.CommunicationStyle = analysis.CommunicationStyle
		}
		if analysis.EmotionalState != "" {
			t.EmotionalState = analysis.EmotionalState
		}
		return t
	}

	oldWeight, newWeight := 0.7, 0.3
	switch {
	case analysis.Confidence > 0.8:
		oldWeight, newWeight = 0.6, 0.4
	case analysis.Confidence < 0.3:
		oldWeight, newWeight = 0.8, 0.2
	}

	merged := *current
	merged.Openness = clamp01(current.Openness*oldWeight + analysis.Openness*newWeight)
	merged.Conscientiousness = clamp01(current.Conscientiousness*oldWeight + analysis.Conscientiousness*newWeight)
	merged.Extraversion = clamp01(current.Extraversion*oldWeight + analysis.Extraversion*newWeight)
	merged.Agreeableness = clamp01(current.Agreeableness*oldWeight + analysis.Agreeableness*newWeight)
	merged.Neuroticism = clamp01(current.Neuroticism*oldWeight + analysis.Neuroticism*newWeight)
	if analysis.CommunicationStyle != "" {
		merged.CommunicationStyle = analysis.CommunicationStyle
	}
	if analysis.EmotionalState != "" {
		merged.EmotionalState = analysis.EmotionalState
	}
	return merged
}

// ShouldUpdate tells whether the profile is due a refresh at the given user
// message count. New users get re-analyzed every 10 messages, established
// ones every 20.
func ShouldUpdate(messageCount int) bool {
	if messageCount == 0 {
		return false
	}
	if messageCount < 50 {
		return messageCount%10 == 0
	}
	return messageCount%20 == 0
}

// Insights describes notable trait readings in the short form stored in
// long-term memory.
func Insights(t Traits) []string {
	var insights []string

	for _, tr := range []struct {
		name  string
		value float64
	}{
		{"openness", t.Openness},
		{"conscientiousness", t.Conscientiousness},
		{"extraversion", t.Extraversion},
		{"agreeableness", t.Agreeableness},
		{"neuroticism", t.Neuroticism},
	} {
		if tr.value > 0.7 {
			insights = append(insights, fmt.Sprintf("High %s: %.2f", tr.name, tr.value))
		} else if tr.value < 0.3 {
			insights = append(insights, fmt.Sprintf("Low %s: %.2f", tr.name, tr.value))
		}
	}

	if t.CommunicationStyle != "" {
		insights = append(insights, "Communication: "+t.CommunicationStyle)
	}
	if t.EmotionalState != "" {
		insights = append(insights, "Emotional state: "+t.EmotionalState)
	}
	return insights
}

// Summary renders the profile as prose for the system prompt.
func (t Traits) Summary() string {
	var parts []string

	if t.Openness > 0.7 {
		parts = append(parts, "creative and open to new experiences")
	} else if t.Openness < 0.3 {
		parts = append(parts, "practical and conventional")
	}
	if t.Conscientiousness > 0.7 {
		parts = append(parts, "organized and disciplined")
	} else if t.Conscientiousness < 0.3 {
		parts = append(parts, "flexible and spontaneous")
	}
	if t.Extraversion > 0.7 {
		parts = append(parts, "outgoing and energetic")
	} else if t.Extraversion < 0.3 {
		parts = append(parts, "reserved and reflective")
	}
	if t.Agreeableness > 0.7 {
		parts = append(parts, "compassionate and cooperative")
	} else if t.Agreeableness < 0.3 {
		parts = append(parts, "direct and competitive")
	}
	if t.Neuroticism > 0.7 {
		parts = append(parts, "emotionally sensitive")
	} else if t.Neuroticism < 0.3 {
		parts = append(parts, "emotionally steady")
	}

	if len(parts) == 0 {
		parts = append(parts, "balanced across personality dimensions")
	}

	return fmt.Sprintf("The user tends to be %s. Communication style: %s. Current emotional state: %s. Preferred approach: %s.",
		strings.Join(parts, ", "), t.CommunicationStyle, t.EmotionalState, t.TherapyApproach)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
