package pipeline

import (
	"math/rand"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hamdamlab/hamdam/internal/emotion"
)

// ackTemplates open a rule-based follow-up so it doesn't read like a bare
// interrogation.
var ackTemplates = []string{
	"گوش می‌دم...",
	"می‌فهمم...",
	"متوجه هستم...",
	"درک می‌کنم...",
}

var sadQuestions = []string{
	"می‌تونید بیشتر برام تعریف کنید که چه اتفاقی افتاده؟",
	"چه چیزی باعث شده که این احساس رو داشته باشید؟",
	"این احساس از کی شروع شده؟",
}

var anxiousQuestions = []string{
	"چه چیزی باعث نگرانی شما شده؟",
	"این اضطراب چه موقع بیشتر می‌شه؟",
	"می‌تونید بیشتر توضیح بدید که چه فکری شما رو نگران می‌کنه؟",
}

var angryQuestions = []string{
	"چه اتفاقی باعث عصبانیتتون شده؟",
	"این احساس چقدر وقته که دارید؟",
	"می‌خواید بیشتر در مورد علت عصبانیتتون صحبت کنید؟",
}

var shortMessageQuestions = []string{
	"می‌تونید کمی بیشتر توضیح بدید؟",
	"چه چیز خاصی توی ذهنتونه که می‌خواید درموردش صحبت کنید؟",
	"امروز چطور بوده؟ چه خبر؟",
}

var defaultQuestions = []string{
	"می‌تونید بیشتر توضیح بدید؟",
	"چه احساسی نسبت به این موضوع دارید؟",
	"این موضوع چقدر مدته که ذهنتونو درگیر کرده؟",
}

var distressPhrases = []string{
	"خوب نیستم", "بد حال", "مشکل دارم", "ناراحتم", "خسته‌ام",
}

// followUpCues in a generated reply mean the model is already asking the
// user something.
var followUpCues = []string{
	"چطور", "چگونه", "چه فکری", "نظرتون چیه", "می‌تونید بگید",
	"تجربه‌تون چی بوده", "چه احساسی", "به نظرتون",
}

var fallbackReplies = map[string]string{
	"sad":      "متوجه می‌شم که حالتون خوب نیست. می‌تونید بیشتر برام تعریف کنید؟",
	"anxious":  "احساس می‌کنم که نگران هستید. چه چیزی باعث این احساس شده؟",
	"angry":    "می‌بینم که عصبانی هستید. می‌خواید در موردش صحبت کنید؟",
	"excited":  "انگار خیلی هیجان‌زده هستید! چه خبر خوبی شده؟",
	"confused": "به نظر مشغله ذهنی دارید. بیشتر توضیح می‌دید؟",
}

const defaultFallbackReply = "گوش می‌دم... ادامه بدید."

// chargedStates gates the follow-up and delay heuristics. Of these only
// "anxious" can actually occur; the sad and angry labels never leave the
// detector once coarsened, so in practice they hit the default branches.
var chargedStates = map[string]struct{}{
	"sad": {}, "anxious": {}, "angry": {},
}

func isCharged(state emotion.State) bool {
	_, ok := chargedStates[string(state)]
	return ok
}

// followUpQuestion decides whether to skip the model and answer with a
// rule-based question instead, and picks the question.
func followUpQuestion(text, memoryContext string, state emotion.State) (bool, string) {
	lower := strings.ToLower(text)

	triggered := utf8.RuneCountInString(strings.TrimSpace(text)) < 20 ||
		(isCharged(state) && !strings.Contains(text, "چون")) ||
		containsAny(lower, distressPhrases) ||
		(memoryContext == "" && utf8.RuneCountInString(text) < 50)
	if !triggered {
		return false, ""
	}

	var bank []string
	switch {
	case state == "sad":
		bank = sadQuestions
	case state == emotion.StateAnxious:
		bank = anxiousQuestions
	case state == "angry":
		bank = angryQuestions
	case utf8.RuneCountInString(text) < 20:
		bank = shortMessageQuestions
	default:
		bank = defaultQuestions
	}
	return true, bank[rand.Intn(len(bank))]
}

// hasFollowUpCue reports whether a generated reply already invites the
// user to keep talking.
func hasFollowUpCue(reply string) bool {
	if strings.Contains(reply, "؟") {
		return true
	}
	return containsAny(reply, followUpCues)
}

func fallbackReply(state emotion.State) string {
	if reply, ok := fallbackReplies[string(state)]; ok {
		return reply
	}
	return defaultFallbackReply
}

// delayRange picks how long the bot "thinks" before answering. Short
// messages get a quick acknowledgment-style pause, emotionally loaded or
// long ones get the slow treatment.
func delayRange(text string, state emotion.State, followUp bool) (time.Duration, time.Duration) {
	n := utf8.RuneCountInString(text)

	if n < 30 {
		return time.Second, 2 * time.Second
	}
	if isCharged(state) || n > 150 || followUp {
		return 3 * time.Second, 6 * time.Second
	}
	return 2 * time.Second, 4 * time.Second
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
