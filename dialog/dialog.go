// Package dialog orchestrates one conversation turn: locking, history,
// caching, generation with streaming edits, web escalation and
// persistence.
package dialog

import (
	"context"
	"log"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/umka-bot/umka/escalate"
	"github.com/umka-bot/umka/generate"
	"github.com/umka-bot/umka/prompt"
	"github.com/umka-bot/umka/sanitize"
	"github.com/umka-bot/umka/session"
	"github.com/umka-bot/umka/usage"
)

// User-facing service replies.
const (
	BusyReply = "Подожди, пожалуйста — я ещё отвечаю на предыдущее сообщение 🙏"
	FailReply = "Что-то пошло не так. Попробуй, пожалуйста, ещё раз чуть позже 🙏"

	placeholder = "…"
)

// Transport delivers messages to the chat surface. SendMessage returns
// the id of the sent message so it can be edited in place.
type Transport interface {
	SendMessage(chatID int64, text string) (int64, error)
	EditMessage(chatID, messageID int64, text string) error
	ShowTyping(chatID int64)
}

// Config tunes the streaming edit cadence.
type Config struct {
	EditInterval time.Duration // min delay between message edits
	MinFirstEdit int           // runes buffered before the first edit
}

func DefaultConfig() Config {
	return Config{
		EditInterval: 400 * time.Millisecond,
		MinFirstEdit: 32,
	}
}

// Orchestrator runs the conversation pipeline. The required
// collaborators, the transport included, are constructor arguments;
// only the optional extras hang off setters.
type Orchestrator struct {
	sessions  *session.Store
	builder   *prompt.Builder
	backend   generate.Backend
	transport Transport
	fallback  generate.Completer // optional second model
	tracker   *usage.Tracker     // optional
	cfg       Config
}

func New(sessions *session.Store, builder *prompt.Builder, backend generate.Backend, transport Transport, cfg Config) *Orchestrator {
	if cfg.EditInterval == 0 {
		cfg.EditInterval = DefaultConfig().EditInterval
	}
	if cfg.MinFirstEdit == 0 {
		cfg.MinFirstEdit = DefaultConfig().MinFirstEdit
	}
	return &Orchestrator{
		sessions:  sessions,
		builder:   builder,
		backend:   backend,
		transport: transport,
		cfg:       cfg,
	}
}

// SetFallback wires an optional fallback completer used when the
// primary backend fails entirely.
func (o *Orchestrator) SetFallback(c generate.Completer) { o.fallback = c }

// SetTracker wires optional usage accounting.
func (o *Orchestrator) SetTracker(t *usage.Tracker) { o.tracker = t }

// ClearConversation wipes the in-memory and persisted history for a
// chat. Backs the /clear command.
func (o *Orchestrator) ClearConversation(chatID int64) {
	o.sessions.Clear(chatID)
}

// HandleMessage processes one user message end to end. It never
// returns an error: every failure is turned into a user-facing reply
// and logged.
func (o *Orchestrator) HandleMessage(ctx context.Context, chatID, userID int64, username, text string) {
	cid := uuid.NewString()[:8]

	if !o.sessions.TryAcquire(chatID) {
		log.Printf("[Dialog] %s chat=%d busy, rejecting", cid, chatID)
		o.send(chatID, BusyReply)
		return
	}
	defer o.sessions.Release(chatID)

	o.sessions.Hydrate(chatID)
	o.sessions.Append(chatID, session.Turn{Role: session.RoleUser, Content: text, Timestamp: time.Now()})

	o.sessions.SetLang(chatID, detectLang(text, o.builder.Pack().Language))

	preferWeb := escalate.ShouldPreferWeb(text)
	if o.tracker != nil {
		if err := o.tracker.Record(userID, username, preferWeb); err != nil {
			log.Printf("[Dialog] %s usage record failed: %v", cid, err)
		}
	}
	log.Printf("[Dialog] %s chat=%d len=%d preferWeb=%v", cid, chatID, utf8.RuneCountInString(text), preferWeb)

	// A cached entry under a web-preferring query was itself produced by
	// the web path (the cache is keyed by the exact normalized query), so
	// one lookup serves both paths.
	if cached, ok := o.sessions.CachedAnswer(chatID, text); ok {
		log.Printf("[Dialog] %s cache hit", cid)
		o.finishTurn(cid, chatID, 0, cached)
		return
	}

	if preferWeb {
		o.answerWithWeb(ctx, cid, chatID, text)
		return
	}

	o.transport.ShowTyping(chatID)
	msgID, err := o.transport.SendMessage(chatID, placeholder)
	if err != nil {
		log.Printf("[Dialog] %s placeholder send failed: %v", cid, err)
		msgID = 0
	}

	msgs := o.builder.Build(o.sessions.Turns(chatID), o.sessions.Lang(chatID))
	answer, err := o.streamAnswer(ctx, cid, chatID, msgID, msgs)
	if err != nil {
		log.Printf("[Dialog] %s stream path failed, retrying plain: %v", cid, err)
		answer, err = o.plainAnswer(ctx, cid, msgs)
	}
	if err != nil || answer == "" {
		log.Printf("[Dialog] %s generation failed: %v", cid, err)
		o.sessions.RollbackLastUser(chatID)
		o.deliver(chatID, msgID, FailReply)
		return
	}

	if escalate.ShouldEscalate(text, answer) {
		log.Printf("[Dialog] %s disclaimer detected, escalating to web", cid)
		o.sessions.InvalidateCached(chatID, text)
		webMsgs := o.builder.BuildWeb(o.sessions.Turns(chatID), o.sessions.Lang(chatID))
		if webAnswer, werr := o.backend.GenerateWithWebTool(ctx, webMsgs, text, o.sessions.Lang(chatID)); werr == nil && webAnswer != "" {
			answer = webAnswer
		} else {
			log.Printf("[Dialog] %s web escalation failed, keeping original: %v", cid, werr)
		}
	}

	o.finishTurn(cid, chatID, msgID, answer)
	o.sessions.CacheAnswer(chatID, text, sanitize.Sanitize(answer))
}

// answerWithWeb handles queries that explicitly want fresh data: no
// cache, no streaming, straight to the web-augmented path.
func (o *Orchestrator) answerWithWeb(ctx context.Context, cid string, chatID int64, text string) {
	o.transport.ShowTyping(chatID)

	msgs := o.builder.BuildWeb(o.sessions.Turns(chatID), o.sessions.Lang(chatID))
	answer, err := o.backend.GenerateWithWebTool(ctx, msgs, text, o.sessions.Lang(chatID))
	if err != nil || answer == "" {
		log.Printf("[Dialog] %s web generation failed: %v", cid, err)
		o.sessions.RollbackLastUser(chatID)
		o.send(chatID, FailReply)
		return
	}
	o.finishTurn(cid, chatID, 0, answer)
	o.sessions.CacheAnswer(chatID, text, sanitize.Sanitize(answer))
}

// streamAnswer runs the streaming call. Chunks flow through a buffered
// channel to a dedicated editor goroutine, so a slow transport edit
// never stalls stream receipt. The first edit waits for a minimum
// amount of text; later edits are rate-limited.
func (o *Orchestrator) streamAnswer(ctx context.Context, cid string, chatID, msgID int64, msgs []generate.Message) (string, error) {
	chunks := make(chan string, 64)
	editorDone := make(chan struct{})

	go o.editLoop(cid, chatID, msgID, chunks, editorDone)

	answer, err := o.backend.StreamGenerate(ctx, msgs, func(delta string) {
		chunks <- delta
	})
	close(chunks)
	<-editorDone
	return answer, err
}

// editLoop consumes stream chunks and issues throttled interim edits of
// the placeholder message.
func (o *Orchestrator) editLoop(cid string, chatID, msgID int64, chunks <-chan string, done chan<- struct{}) {
	defer close(done)
	if msgID == 0 {
		for range chunks {
		}
		return
	}

	var buf strings.Builder
	var lastEdit time.Time
	var firstDone bool
	for delta := range chunks {
		buf.WriteString(delta)
		if !firstDone {
			if utf8.RuneCountInString(buf.String()) < o.cfg.MinFirstEdit {
				continue
			}
		} else if time.Since(lastEdit) < o.cfg.EditInterval {
			continue
		}
		if err := o.transport.EditMessage(chatID, msgID, sanitize.Sanitize(buf.String())); err != nil {
			log.Printf("[Dialog] %s interim edit failed: %v", cid, err)
			continue
		}
		firstDone = true
		lastEdit = time.Now()
	}
}

// plainAnswer is the non-streaming retry, on the fallback model when
// one is wired.
func (o *Orchestrator) plainAnswer(ctx context.Context, cid string, msgs []generate.Message) (string, error) {
	answer, err := o.backend.Generate(ctx, msgs)
	if err == nil && answer != "" {
		return answer, nil
	}
	if o.fallback == nil {
		return "", err
	}
	log.Printf("[Dialog] %s primary exhausted, trying fallback model: %v", cid, err)
	return o.fallback.Generate(ctx, msgs)
}

// finishTurn sanitizes, delivers and records a successful answer.
func (o *Orchestrator) finishTurn(cid string, chatID, msgID int64, answer string) {
	clean := sanitize.Sanitize(answer)
	o.deliver(chatID, msgID, clean)
	log.Printf("[Dialog] %s done chat=%d bytes=%d", cid, chatID, len(clean))

	o.sessions.Append(chatID, session.Turn{Role: session.RoleAssistant, Content: clean, Timestamp: time.Now()})
	o.sessions.Trim(chatID, o.sessions.MaxTurns())
	o.sessions.Persist(chatID)
}

// deliver edits the placeholder when there is one, sending a fresh
// message when the edit fails or no placeholder exists.
func (o *Orchestrator) deliver(chatID, msgID int64, text string) {
	if msgID != 0 {
		if err := o.transport.EditMessage(chatID, msgID, text); err == nil {
			return
		}
	}
	o.send(chatID, text)
}

// detectLang tags the conversation language from the message script:
// any Cyrillic means Russian, otherwise English, with the pack language
// as the tiebreak for empty input.
func detectLang(text, def string) string {
	for _, r := range text {
		if unicode.Is(unicode.Cyrillic, r) {
			return "ru"
		}
		if unicode.IsLetter(r) {
			return "en"
		}
	}
	if def != "" {
		return def
	}
	return "ru"
}

func (o *Orchestrator) send(chatID int64, text string) {
	if _, err := o.transport.SendMessage(chatID, text); err != nil {
		log.Printf("[Dialog] send failed chat=%d: %v", chatID, err)
	}
}
