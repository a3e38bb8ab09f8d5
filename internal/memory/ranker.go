package memory

import (
	"sort"
	"time"
)

const (
	similarityWeight = 0.5
	importanceWeight = 0.3
	recencyWeight    = 0.1
	accessWeight     = 0.1

	rankCutoff = 0.2

	accessSaturation = 10
)

type rankedRecord struct {
	rec   Record
	score float64
}

// Rank orders long-term candidates by relevance to the query. Candidates
// sharing no keywords with the query are excluded entirely. Results keep
// their incoming order on score ties, are trimmed to topK, then filtered
// by the cutoff. Pure: no store access, no side effects.
func Rank(query string, candidates []Record, topK int, now time.Time) []Record {
	if len(candidates) == 0 {
		return nil
	}

	queryWords := keywordSet(query)

	scored := make([]rankedRecord, 0, len(candidates))
	for _, rec := range candidates {
		memWords := keywordSet(rec.Content)

		overlap := 0
		for w := range queryWords {
			if _, ok := memWords[w]; ok {
				overlap++
			}
		}
		union := len(queryWords) + len(memWords) - overlap
		if union == 0 {
			continue
		}
		similarity := float64(overlap) / float64(union)

		final := similarity*similarityWeight +
			rec.Importance*importanceWeight +
			recencyFactor(rec.CreatedAt, now)*recencyWeight +
			accessFactor(rec.AccessCount)*accessWeight

		scored = append(scored, rankedRecord{rec: rec, score: final})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}

	result := make([]Record, 0, len(scored))
	for _, s := range scored {
		if s.score > rankCutoff {
			result = append(result, s.rec)
		}
	}
	return result
}

// recencyFactor steps down with age rather than decaying smoothly.
func recencyFactor(createdAt time.Time, now time.Time) float64 {
	days := int(now.Sub(createdAt).Hours() / 24)
	switch {
	case days <= 1:
		return 1.0
	case days <= 7:
		return 0.8
	case days <= 30:
		return 0.6
	case days <= 90:
		return 0.4
	default:
		return 0.2
	}
}

func accessFactor(count int) float64 {
	f := float64(count) / accessSaturation
	if f > 1 {
		return 1
	}
	return f
}
