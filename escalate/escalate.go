// Package escalate decides when a query or answer requires the
// web-augmented generation path. These are deliberately conservative
// keyword heuristics, not classifiers: the exact vocabulary is the
// contract and is pinned by the tests.
package escalate

import (
	"strings"
	"unicode"
)

// Russian stems matched as substrings; inflected forms all share them.
var ruStems = []string{
	// time-sensitive vocabulary
	"сейчас", "сегодня", "вчера", "завтра", "свеж", "последн", "актуальн",
	// explicit web phrasing
	"найди", "поищи", "погугли", "загугли", "в интернете",
	// data-volatile topics
	"курс", "цена", "стоимост", "котировк", "погода", "прогноз",
	"расписани", "новост", "биткоин", "доллар", "евро",
}

// English keywords matched as whole words to avoid false hits inside
// longer words ("know" contains "now").
var enWords = map[string]bool{
	"now": true, "today": true, "tonight": true, "latest": true,
	"current": true, "recent": true,
	"search": true, "google": true, "lookup": true,
	"price": true, "prices": true, "rate": true, "rates": true,
	"weather": true, "forecast": true, "schedule": true,
	"score": true, "scores": true, "stock": true, "stocks": true,
	"news": true, "bitcoin": true,
}

// Disclaimer fragments in answers that mean the model is telling the
// user it cannot reach current data.
var disclaimers = []string{
	"don't have access to the internet",
	"do not have access to the internet",
	"don't have internet access",
	"cannot browse",
	"can't browse",
	"unable to browse",
	"knowledge cutoff",
	"as of my last update",
	"нет доступа к интернету",
	"не имею доступа к интернету",
	"не могу выходить в интернет",
	"мои знания ограничены",
	"мои данные ограничены",
}

// ShouldPreferWeb reports whether the query itself asks for fresh or
// web-sourced data, in which case the cached answer is skipped and the
// web path is tried first.
func ShouldPreferWeb(query string) bool {
	q := strings.ToLower(query)
	for _, stem := range ruStems {
		if strings.Contains(q, stem) {
			return true
		}
	}
	for _, word := range tokenize(q) {
		if enWords[word] {
			return true
		}
	}
	return false
}

// ShouldEscalate reports whether the produced answer must be replaced by
// a web-augmented retry: either the query prefers web data, or the answer
// is a no-internet disclaimer.
func ShouldEscalate(query, answer string) bool {
	if ShouldPreferWeb(query) {
		return true
	}
	a := strings.ToLower(answer)
	for _, d := range disclaimers {
		if strings.Contains(a, d) {
			return true
		}
	}
	return false
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
