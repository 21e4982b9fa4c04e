package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/umka-bot/umka/generate"
	"github.com/umka-bot/umka/session"
)

func TestBuildSystemFirst(t *testing.T) {
	b := NewBuilder(DefaultPack(), 3000, 30)
	msgs := b.Build([]session.Turn{
		{Role: session.RoleUser, Content: "привет"},
		{Role: session.RoleAssistant, Content: "здравствуй"},
	}, "ru")
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Role != generate.RoleSystem {
		t.Errorf("Expected system first, got %q", msgs[0].Role)
	}
	if msgs[1].Content != "привет" || msgs[2].Content != "здравствуй" {
		t.Errorf("Expected history in order, got %+v", msgs[1:])
	}
	if msgs[2].Role != generate.RoleAssistant {
		t.Errorf("Expected assistant role preserved, got %q", msgs[2].Role)
	}
}

func TestBuildRespectsMaxTurns(t *testing.T) {
	b := NewBuilder(DefaultPack(), 100000, 4)
	var turns []session.Turn
	for i := 0; i < 10; i++ {
		turns = append(turns, session.Turn{Role: session.RoleUser, Content: strings.Repeat("x", i+1)})
	}
	msgs := b.Build(turns, "ru")
	if len(msgs) != 5 {
		t.Fatalf("Expected system + 4 turns, got %d messages", len(msgs))
	}
	if msgs[1].Content != strings.Repeat("x", 7) {
		t.Errorf("Expected the 4 newest turns kept, got %q first", msgs[1].Content)
	}
}

func TestBuildDropsOldestWhenOverBudget(t *testing.T) {
	b := NewBuilder(DefaultPack(), 50, 30)
	long := strings.Repeat("слово ", 100)
	msgs := b.Build([]session.Turn{
		{Role: session.RoleUser, Content: long},
		{Role: session.RoleAssistant, Content: long},
		{Role: session.RoleUser, Content: "короткий вопрос"},
	}, "ru")
	if len(msgs) != 2 {
		t.Fatalf("Expected only system + newest turn, got %d messages", len(msgs))
	}
	if msgs[1].Content != "короткий вопрос" {
		t.Errorf("Expected newest turn kept, got %q", msgs[1].Content)
	}
}

func TestBuildNewestAlwaysIncluded(t *testing.T) {
	b := NewBuilder(DefaultPack(), 10, 30)
	long := strings.Repeat("очень длинный текст ", 200)
	msgs := b.Build([]session.Turn{{Role: session.RoleUser, Content: long}}, "ru")
	if len(msgs) != 2 {
		t.Fatalf("Expected newest turn included despite budget, got %d messages", len(msgs))
	}
}

func TestBuildWebAppendsInstructions(t *testing.T) {
	pack := Pack{System: "persona", Web: "use the web", Language: "en"}
	b := NewBuilder(pack, 3000, 30)
	msgs := b.BuildWeb([]session.Turn{{Role: session.RoleUser, Content: "q"}}, "en")
	if !strings.HasPrefix(msgs[0].Content, "persona") || !strings.Contains(msgs[0].Content, "use the web") {
		t.Errorf("Expected web instructions appended to system, got %q", msgs[0].Content)
	}
}

func TestBuildAppendsLanguageDirective(t *testing.T) {
	b := NewBuilder(DefaultPack(), 3000, 30)

	sys := b.Build([]session.Turn{{Role: session.RoleUser, Content: "привет"}}, "ru")[0].Content
	if !strings.Contains(sys, "Отвечай на русском языке.") {
		t.Errorf("Expected Russian directive in system message, got %q", sys)
	}

	sys = b.Build([]session.Turn{{Role: session.RoleUser, Content: "hi"}}, "en")[0].Content
	if !strings.Contains(sys, "Respond in English.") {
		t.Errorf("Expected English directive in system message, got %q", sys)
	}

	sys = b.Build(nil, "")[0].Content
	if strings.Contains(sys, "Respond in") || strings.Contains(sys, "Отвечай на русском") {
		t.Errorf("Expected no directive for unknown language, got %q", sys)
	}
}

func TestBuildWebDirectiveFollowsWebInstructions(t *testing.T) {
	pack := Pack{System: "persona", Web: "use the web", Language: "en"}
	b := NewBuilder(pack, 3000, 30)
	sys := b.BuildWeb([]session.Turn{{Role: session.RoleUser, Content: "q"}}, "en")[0].Content
	web := strings.Index(sys, "use the web")
	dir := strings.Index(sys, "Respond in English.")
	if web < 0 || dir < 0 || dir < web {
		t.Errorf("Expected system, web instructions, then directive, got %q", sys)
	}
}

func TestLoadPack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.yaml")
	data := "system: custom persona\nlanguage: en\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	pack, err := LoadPack(path)
	if err != nil {
		t.Fatalf("LoadPack failed: %v", err)
	}
	if pack.System != "custom persona" || pack.Language != "en" {
		t.Errorf("Unexpected pack: %+v", pack)
	}
	if pack.Web == "" {
		t.Error("Expected missing web field to keep the default")
	}
}

func TestLoadPackMissingFile(t *testing.T) {
	pack, err := LoadPack(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Error("Expected error for missing file")
	}
	if pack.System == "" {
		t.Error("Expected defaults returned alongside the error")
	}
}
