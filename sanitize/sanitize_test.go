package sanitize

import "testing"

func TestStripsServiceTags(t *testing.T) {
	got := Sanitize("<think>internal plan</think>Ответ: всё хорошо")
	if got != "internal planОтвет: всё хорошо" {
		// Tags are removed but their inner text stays, matching the
		// transport-side behavior of the reasoning filter.
		t.Errorf("Unexpected result: %q", got)
	}
}

func TestStripsReasoningTags(t *testing.T) {
	got := Sanitize("<reasoning>...</reasoning>ok")
	if got != "...ok" {
		t.Errorf("Expected reasoning tags stripped, got %q", got)
	}
}

func TestStripsResponseReprs(t *testing.T) {
	got := Sanitize("before ResponseOutputItem(type=reasoning) after")
	if got != "before  after" {
		t.Errorf("Expected SDK repr stripped, got %q", got)
	}
}

func TestDropsNulBytes(t *testing.T) {
	got := Sanitize("a\x00b")
	if got != "ab" {
		t.Errorf("Expected NUL bytes dropped, got %q", got)
	}
}

func TestEscapesMarkup(t *testing.T) {
	got := Sanitize("1 < 2 & 3 > 2")
	if got != "1 &lt; 2 &amp; 3 &gt; 2" {
		t.Errorf("Expected HTML escaping, got %q", got)
	}
}

func TestEmptyInput(t *testing.T) {
	if got := Sanitize(""); got != "" {
		t.Errorf("Expected empty output, got %q", got)
	}
	if got := Sanitize("   \x00  "); got != "" {
		t.Errorf("Expected whitespace/NUL-only input to collapse, got %q", got)
	}
}

// Sanitize(Sanitize(s)) == Sanitize(s) for any input.
func TestIdempotence(t *testing.T) {
	inputs := []string{
		"plain text",
		"жирный <b>текст</b> & ссылка",
		"<think>hidden</think>visible",
		"a < b > c & d",
		"already &amp; escaped &lt;tag&gt;",
		"ResponseReasoningItem(id=1)текст",
		"\x00\x00",
		"смешанный &amp; сырой & текст",
	}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		if once != twice {
			t.Errorf("Sanitize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}
