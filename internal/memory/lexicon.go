package memory

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Persian lexicons driving the importance scorer. Matching is substring
// containment against the lowercased message, so compound phrases count too.
var highImportanceWords = []string{
	"خودکشی", "مرگ", "درد", "افسرده", "ناامید", "تنها", "ترس", "نگران", "اضطراب",
	"عاشق", "ازدواج", "طلاق", "خانواده", "پدر", "مادر", "فرزند", "کار", "شغل",
	"بیماری", "سلامت", "دردسر", "مشکل", "بحران", "تصمیم مهم",
}

var mediumImportanceWords = []string{
	"دوست", "رابطه", "احساس", "خوشحال", "ناراحت", "عصبانی", "آرام",
	"تغییر", "برنامه", "هدف", "آینده", "گذشته", "خاطره", "تجربه",
}

var emotionWeights = map[string]float64{
	"sad":        0.2,
	"angry":      0.15,
	"anxious":    0.2,
	"worried":    0.15,
	"excited":    0.1,
	"happy":      0.05,
	"frustrated": 0.15,
}

const defaultEmotionWeight = 0.05

var questionWords = []string{"چرا", "چگونه", "کی"}

var firstPersonMarkers = []string{"من", "خودم", "خود", "مال من", "برای من"}

var stopWords = map[string]struct{}{
	"و": {}, "در": {}, "به": {}, "از": {}, "که": {}, "این": {}, "با": {},
	"برای": {}, "تا": {}, "بر": {}, "یا": {}, "اما": {}, "چون": {}, "اگر": {},
	"وقتی": {}, "البته": {}, "بعد": {}, "قبل": {}, "حالا": {}, "الان": {},
	"امروز": {}, "دیروز": {}, "است": {}, "هست": {}, "بود": {}, "شد": {},
	"می": {}, "نمی": {}, "خیلی": {}, "زیاد": {}, "کم": {}, "فقط": {},
}

// Arabic-script blocks plus \w so mixed Persian/English input tokenizes.
var wordRegex = regexp.MustCompile(`[\x{0600}-\x{06FF}\x{0700}-\x{077F}\w]+`)

// Keywords tokenizes text for similarity matching: lowercased, short
// tokens and stop words dropped.
func Keywords(text string) []string {
	words := wordRegex.FindAllString(strings.ToLower(text), -1)
	keywords := make([]string, 0, len(words))
	for _, w := range words {
		if utf8.RuneCountInString(w) <= 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		keywords = append(keywords, w)
	}
	return keywords
}

func keywordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range Keywords(text) {
		set[w] = struct{}{}
	}
	return set
}
