// Package prompt builds the message list sent to the model: persona
// packs loaded from YAML and history trimmed to a token budget.
package prompt

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"gopkg.in/yaml.v3"

	"github.com/umka-bot/umka/generate"
	"github.com/umka-bot/umka/session"
)

// Pack is a persona definition. The web prompt is appended to the
// system prompt when the web-augmented path is taken.
type Pack struct {
	System   string `yaml:"system"`
	Web      string `yaml:"web"`
	Language string `yaml:"language"`
}

const defaultSystem = `Ты — тёплый и внимательный собеседник, помогающий человеку разобраться в себе.
Общайся мягко, поэтапно, через вопросы.
Стиль диалога:
1. Начни с простого и доброжелательного приветствия, дай понять, что человек не один.
2. Спроси о его ощущениях или мыслях ("Что у тебя сейчас на душе?", "Как ты себя чувствуешь?").
3. Аккуратно углубляйся: уточняй, какие трудности или внутренние конфликты он замечает.
4. Помогай образами и метафорами (например, "Представь, что в голове сидит персонаж…").
5. Всегда отражай эмоции собеседника ("Я слышу, что тебе тяжело…").
6. Помогай увидеть ресурсного «Я» — спокойного, поддерживающего.
7. Заверши практическим, очень маленьким и выполнимым шагом (подышать, прогуляться, сделать паузу).

Тон: очень тёплый, человечный, с эмпатией, без морализаторства, с уважением к личным переживаниям.
Не давай сухих фактов, а веди диалог, где вопросы идут один за другим и помогают человеку постепенно находить ясность.`

const defaultWeb = `Ты работаешь с доступом к результатам веб-поиска. Сначала кратко сформулируй ответ своими словами, затем перечисли ключевые факты. Отвечай на языке запроса пользователя.`

// DefaultPack returns the built-in Russian companion persona.
func DefaultPack() Pack {
	return Pack{System: defaultSystem, Web: defaultWeb, Language: "ru"}
}

// LoadPack reads a pack from a YAML file. Fields missing in the file
// keep their defaults.
func LoadPack(path string) (Pack, error) {
	pack := DefaultPack()
	data, err := os.ReadFile(path)
	if err != nil {
		return pack, fmt.Errorf("read prompt pack: %w", err)
	}
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return pack, fmt.Errorf("parse prompt pack: %w", err)
	}
	if pack.Language == "" {
		pack.Language = "ru"
	}
	return pack, nil
}

var (
	tokenizer     *tiktoken.Tiktoken
	tokenizerErr  error
	tokenizerOnce sync.Once
)

// countTokens uses cl100k_base BPE, with a bytes/4 estimate when the
// encoding is unavailable.
func countTokens(s string) int {
	tokenizerOnce.Do(func() {
		tokenizer, tokenizerErr = tiktoken.GetEncoding("cl100k_base")
		if tokenizerErr != nil {
			log.Printf("[Prompt] Tokenizer unavailable, estimating: %v", tokenizerErr)
		}
	})
	if tokenizer == nil {
		return len(s)/4 + 1
	}
	return len(tokenizer.Encode(s, nil, nil))
}

// Builder assembles model prompts from a pack and conversation history.
type Builder struct {
	pack        Pack
	tokenBudget int
	maxTurns    int
}

func NewBuilder(pack Pack, tokenBudget, maxTurns int) *Builder {
	if tokenBudget <= 0 {
		tokenBudget = 3000
	}
	if maxTurns <= 0 {
		maxTurns = 30
	}
	return &Builder{pack: pack, tokenBudget: tokenBudget, maxTurns: maxTurns}
}

func (b *Builder) Pack() Pack { return b.pack }

// Build returns the system message followed by the most recent history
// turns that fit the token budget, oldest first. The newest turn is
// always included even if it alone exceeds the budget. The language
// directive is appended to the system message so the model keeps the
// conversation language even after injected context.
func (b *Builder) Build(turns []session.Turn, lang string) []generate.Message {
	return b.build(turns, b.systemContent("", lang))
}

// BuildWeb is Build with the web instructions appended to the system
// prompt, before the language directive.
func (b *Builder) BuildWeb(turns []session.Turn, lang string) []generate.Message {
	return b.build(turns, b.systemContent(b.pack.Web, lang))
}

func (b *Builder) systemContent(mode, lang string) string {
	s := b.pack.System
	if mode != "" {
		s += "\n\n" + mode
	}
	if d := languageDirective(lang); d != "" {
		s += "\n\n" + d
	}
	return s
}

func languageDirective(lang string) string {
	switch lang {
	case "ru":
		return "Отвечай на русском языке."
	case "en":
		return "Respond in English."
	case "":
		return ""
	default:
		return "Respond in " + lang + "."
	}
}

func (b *Builder) build(turns []session.Turn, system string) []generate.Message {
	msgs := []generate.Message{{Role: generate.RoleSystem, Content: system}}

	if len(turns) > b.maxTurns {
		turns = turns[len(turns)-b.maxTurns:]
	}

	budget := b.tokenBudget
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		cost := countTokens(turns[i].Content) + 4
		if budget-cost < 0 && start < len(turns) {
			break
		}
		budget -= cost
		start = i
	}

	for _, t := range turns[start:] {
		role := generate.RoleUser
		if t.Role == session.RoleAssistant {
			role = generate.RoleAssistant
		}
		msgs = append(msgs, generate.Message{Role: role, Content: t.Content})
	}
	return msgs
}
