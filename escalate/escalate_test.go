package escalate

import "testing"

func TestPreferWebTimeSensitiveRussian(t *testing.T) {
	queries := []string{
		"какой сейчас курс доллара",
		"какая погода в москве",
		"последние новости",
		"сколько стоит биткоин сегодня",
		"найди расписание электричек",
	}
	for _, q := range queries {
		if !ShouldPreferWeb(q) {
			t.Errorf("Expected ShouldPreferWeb(%q) to be true", q)
		}
	}
}

func TestPreferWebEnglish(t *testing.T) {
	queries := []string{
		"what is the bitcoin price now",
		"latest news about mars",
		"weather forecast for tomorrow",
	}
	for _, q := range queries {
		if !ShouldPreferWeb(q) {
			t.Errorf("Expected ShouldPreferWeb(%q) to be true", q)
		}
	}
}

func TestPreferWebNegative(t *testing.T) {
	queries := []string{
		"расскажи анекдот",
		"напиши стихотворение про кота",
		"do you know any jokes",
		"explain how snowflakes form",
	}
	for _, q := range queries {
		if ShouldPreferWeb(q) {
			t.Errorf("Expected ShouldPreferWeb(%q) to be false", q)
		}
	}
}

func TestEnglishWordBoundary(t *testing.T) {
	// "know" contains "now" but must not trigger.
	if ShouldPreferWeb("I know a good story") {
		t.Error("Expected substring of a longer word not to trigger")
	}
	if !ShouldPreferWeb("tell me now") {
		t.Error("Expected whole-word match to trigger")
	}
}

func TestEscalateOnDisclaimer(t *testing.T) {
	answers := []string{
		"Sorry, I don't have access to the internet.",
		"My knowledge cutoff is 2023, so I can't say.",
		"К сожалению, у меня нет доступа к интернету.",
		"Мои знания ограничены октябрём 2023 года.",
	}
	for _, a := range answers {
		if !ShouldEscalate("расскажи анекдот", a) {
			t.Errorf("Expected disclaimer %q to escalate regardless of query", a)
		}
	}
}

func TestNoEscalateOnPlainAnswer(t *testing.T) {
	if ShouldEscalate("расскажи анекдот", "Вот анекдот: ...") {
		t.Error("Expected plain answer to a plain query not to escalate")
	}
}

func TestEscalateOnWebQuery(t *testing.T) {
	if !ShouldEscalate("какой сейчас курс доллара", "Примерно 90 рублей.") {
		t.Error("Expected web-preferring query to escalate")
	}
}
