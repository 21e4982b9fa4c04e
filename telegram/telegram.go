// Package telegram implements the Bot API surface: long polling with a
// bounded worker pool, HTML message delivery with in-place edits, and
// the service commands.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/umka-bot/umka/usage"
)

const (
	maxMessageLen = 4096 // Telegram hard limit, in UTF-16 code units

	msgQueueSize = 100
	workerCount  = 8

	startReply = "Привет 👋 Я здесь, чтобы поговорить и помочь разобраться в себе.\n\nПросто напиши, что у тебя на душе. /clear — начать разговор заново."
	clearReply = "Хорошо, начнём с чистого листа 🌿"
)

// Handler processes one incoming user message. The dialog orchestrator
// implements this.
type Handler interface {
	HandleMessage(ctx context.Context, chatID, userID int64, username, text string)
	ClearConversation(chatID int64)
}

// Bot speaks the Telegram Bot API over plain HTTP.
type Bot struct {
	token       string
	baseURL     string
	client      *http.Client
	adminChatID int64

	handler Handler
	tracker *usage.Tracker // optional, backs /stats

	offset   int
	muOffset sync.Mutex

	pollInterval time.Duration
	msgCh        chan update
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

type update struct {
	UpdateID int `json:"update_id"`
	Message  struct {
		MessageID int64  `json:"message_id"`
		Text      string `json:"text"`
		From      struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

func NewBot(token string, adminChatID int64) *Bot {
	return &Bot{
		token:        token,
		baseURL:      fmt.Sprintf("https://api.telegram.org/bot%s", token),
		client:       &http.Client{Timeout: 35 * time.Second},
		adminChatID:  adminChatID,
		pollInterval: 1 * time.Second,
		msgCh:        make(chan update, msgQueueSize),
		stopCh:       make(chan struct{}),
	}
}

// SetHandler wires the message processor. Must be called before Start.
func (b *Bot) SetHandler(h Handler) { b.handler = h }

// SetTracker wires usage stats for the /stats command.
func (b *Bot) SetTracker(t *usage.Tracker) { b.tracker = t }

// SetBaseURL overrides the API endpoint, used for tests.
func (b *Bot) SetBaseURL(u string) { b.baseURL = u }

// Start deletes any webhook and runs the long-polling loop until Stop.
// Blocks; run it in a goroutine.
func (b *Bot) Start() {
	b.deleteWebhook()
	log.Printf("[Telegram] Long polling started with %d workers", workerCount)

	b.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go b.messageWorker()
	}

	for {
		select {
		case <-b.stopCh:
			close(b.msgCh)
			b.wg.Wait()
			log.Printf("[Telegram] All workers stopped")
			return
		default:
			b.pollUpdates()
			time.Sleep(b.pollInterval)
		}
	}
}

func (b *Bot) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// SendMessage implements dialog.Transport. HTML parse mode; falls back
// to plain text when Telegram rejects the markup.
func (b *Bot) SendMessage(chatID int64, text string) (int64, error) {
	text = truncate(text)
	id, err := b.sendMessageOnce(chatID, text, "HTML")
	if err != nil && strings.Contains(err.Error(), "can't parse entities") {
		log.Printf("[Telegram] HTML rejected, resending plain chat=%d: %v", chatID, err)
		return b.sendMessageOnce(chatID, text, "")
	}
	return id, err
}

func (b *Bot) sendMessageOnce(chatID int64, text, parseMode string) (int64, error) {
	req := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if parseMode != "" {
		req["parse_mode"] = parseMode
	}
	var resp struct {
		MessageID int64 `json:"message_id"`
	}
	if err := b.call("sendMessage", req, &resp); err != nil {
		return 0, err
	}
	return resp.MessageID, nil
}

// EditMessage implements dialog.Transport.
func (b *Bot) EditMessage(chatID, messageID int64, text string) error {
	req := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       truncate(text),
		"parse_mode": "HTML",
	}
	err := b.call("editMessageText", req, nil)
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	return err
}

// ShowTyping implements dialog.Transport. Best-effort.
func (b *Bot) ShowTyping(chatID int64) {
	req := map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	}
	if err := b.call("sendChatAction", req, nil); err != nil {
		log.Printf("[Telegram] typing action failed chat=%d: %v", chatID, err)
	}
}

// NotifyDegraded implements kv.Notifier: alert the operator chat.
func (b *Bot) NotifyDegraded(cause error) {
	if b.adminChatID == 0 {
		return
	}
	b.SendMessage(b.adminChatID, fmt.Sprintf("⚠️ Хранилище недоступно, работаю на резервной памяти.\n\n%v", cause))
}

// NotifyRestored implements kv.Notifier.
func (b *Bot) NotifyRestored() {
	if b.adminChatID == 0 {
		return
	}
	b.SendMessage(b.adminChatID, "✅ Хранилище снова доступно.")
}

func (b *Bot) messageWorker() {
	defer b.wg.Done()
	for u := range b.msgCh {
		b.processMessage(u)
	}
}

func (b *Bot) processMessage(u update) {
	chatID := u.Message.Chat.ID
	text := strings.TrimSpace(u.Message.Text)
	if text == "" {
		return
	}

	switch {
	case text == "/start":
		b.SendMessage(chatID, startReply)
	case text == "/clear":
		b.handler.ClearConversation(chatID)
		b.SendMessage(chatID, clearReply)
	case text == "/stats":
		b.handleStats(chatID)
	case strings.HasPrefix(text, "/"):
		b.SendMessage(chatID, "Не знаю такой команды. Доступны /start, /clear и /stats.")
	default:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		b.handler.HandleMessage(ctx, chatID, u.Message.From.ID, u.Message.From.Username, text)
		cancel()
	}
}

// handleStats is operator-only: usage counters by heaviest users.
func (b *Bot) handleStats(chatID int64) {
	if b.tracker == nil || chatID != b.adminChatID {
		b.SendMessage(chatID, "Эта команда доступна только оператору.")
		return
	}
	stats, err := b.tracker.Top(10)
	if err != nil {
		log.Printf("[Telegram] stats query failed: %v", err)
		b.SendMessage(chatID, "Не получилось прочитать статистику.")
		return
	}
	if len(stats) == 0 {
		b.SendMessage(chatID, "Статистика пока пуста.")
		return
	}
	var sb strings.Builder
	sb.WriteString("<b>Топ пользователей</b>\n")
	for _, s := range stats {
		name := s.Username
		if name == "" {
			name = fmt.Sprintf("id%d", s.UserID)
		}
		fmt.Fprintf(&sb, "%s — всего %d (текст %d, веб %d)\n", name, s.Total, s.Text, s.Web)
	}
	b.SendMessage(chatID, sb.String())
}

func (b *Bot) pollUpdates() {
	b.muOffset.Lock()
	offset := b.offset
	b.muOffset.Unlock()

	url := fmt.Sprintf("%s/getUpdates?timeout=30&offset=%d", b.baseURL, offset)
	resp, err := b.client.Get(url)
	if err != nil {
		log.Printf("[Telegram] pollUpdates failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("[Telegram] pollUpdates status=%d", resp.StatusCode)
		return
	}

	var result struct {
		OK     bool     `json:"ok"`
		Result []update `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Printf("[Telegram] pollUpdates decode failed: %v", err)
		return
	}
	if !result.OK {
		return
	}

	for _, u := range result.Result {
		b.muOffset.Lock()
		if u.UpdateID >= b.offset {
			b.offset = u.UpdateID + 1
		}
		b.muOffset.Unlock()

		if u.Message.Text == "" {
			continue
		}
		select {
		case b.msgCh <- u:
		default:
			log.Printf("[Telegram] queue full, dropping update_id=%d", u.UpdateID)
		}
	}
}

func (b *Bot) deleteWebhook() {
	if err := b.call("deleteWebhook", map[string]any{}, nil); err != nil {
		log.Printf("[Telegram] deleteWebhook failed: %v", err)
	}
}

// call posts a Bot API method and decodes result into out when the
// API reports ok.
func (b *Bot) call(method string, req map[string]any, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	resp, err := b.client.Post(b.baseURL+"/"+method, "application/json", strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s: decode: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("%s: %s", method, envelope.Description)
	}
	if out != nil && len(envelope.Result) > 0 {
		return json.Unmarshal(envelope.Result, out)
	}
	return nil
}

// truncate counts UTF-16 code units the way Telegram does, so runes
// outside the BMP cost two. The ellipsis is one unit.
func truncate(text string) string {
	if utf16Len(text) <= maxMessageLen {
		return text
	}
	units := 0
	for i, r := range text {
		w := 1
		if utf16.RuneLen(r) == 2 {
			w = 2
		}
		if units+w > maxMessageLen-1 {
			return text[:i] + "…"
		}
		units += w
	}
	return text
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if utf16.RuneLen(r) == 2 {
			n += 2
		} else {
			n++
		}
	}
	return n
}
