package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/umka-bot/umka/websearch"
)

const defaultWebPrompt = "Используй факты из результатов поиска ниже, чтобы ответить на вопрос пользователя. Если факты противоречат твоим знаниям, доверяй фактам.\n\nРезультаты поиска:\n%s"

// OpenAIConfig configures the primary completion backend.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	StallTimeout time.Duration // max silence between stream chunks
	Retries      int           // non-stream attempts
	WebPrompt    string        // format string receiving the search context
}

// OpenAI is the primary backend, speaking the chat-completions API
// through the official-compatible SDK.
type OpenAI struct {
	client *openai.Client
	search *websearch.Client
	cfg    OpenAIConfig
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.StallTimeout == 0 {
		cfg.StallTimeout = 30 * time.Second
	}
	if cfg.Retries == 0 {
		cfg.Retries = 3
	}
	if cfg.WebPrompt == "" {
		cfg.WebPrompt = defaultWebPrompt
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		search: websearch.NewClient(),
		cfg:    cfg,
	}
}

func toChatMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// StreamGenerate implements Backend. A watchdog closes the stream if no
// chunk arrives within the stall timeout, which unblocks Recv.
func (o *OpenAI) StreamGenerate(ctx context.Context, msgs []Message, onChunk func(string)) (string, error) {
	stream, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    o.cfg.Model,
		Messages: toChatMessages(msgs),
		Stream:   true,
	})
	if err != nil {
		log.Printf("[Generate] Stream open failed: %v", err)
		return "", fmt.Errorf("%w: %v", ErrStreamFailed, err)
	}
	defer stream.Close()

	watchdog := time.AfterFunc(o.cfg.StallTimeout, func() {
		log.Printf("[Generate] Stream stalled for %v, closing", o.cfg.StallTimeout)
		stream.Close()
	})
	defer watchdog.Stop()

	var b strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if b.Len() > 0 {
				// Partial answer: keep what we have, the caller decides
				// whether it is enough.
				log.Printf("[Generate] Stream broke after %d bytes: %v", b.Len(), err)
				break
			}
			return "", fmt.Errorf("%w: %v", ErrStreamFailed, err)
		}
		watchdog.Reset(o.cfg.StallTimeout)
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		b.WriteString(delta)
		onChunk(delta)
	}

	if b.Len() == 0 {
		return "", ErrStreamFailed
	}
	return b.String(), nil
}

// Generate implements Completer with linear-backoff retries.
func (o *OpenAI) Generate(ctx context.Context, msgs []Message) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.Retries; attempt++ {
		resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    o.cfg.Model,
			Messages: toChatMessages(msgs),
		})
		if err == nil && len(resp.Choices) > 0 && resp.Choices[0].Message.Content != "" {
			return resp.Choices[0].Message.Content, nil
		}
		if err == nil {
			err = errors.New("empty completion")
		}
		lastErr = err
		log.Printf("[Generate] Attempt %d/%d failed: %v", attempt, o.cfg.Retries, err)
		if attempt < o.cfg.Retries {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("%w: %v", ErrGenerationFailed, lastErr)
}

// GenerateWithWebTool implements Backend. Search failures degrade to a
// plain completion rather than failing the request.
func (o *OpenAI) GenerateWithWebTool(ctx context.Context, msgs []Message, query, lang string) (string, error) {
	results, err := o.search.Aggregate(ctx, query, lang)
	if err != nil || len(results) == 0 {
		if err != nil {
			log.Printf("[Generate] Web search failed, answering without it: %v", err)
		}
		return o.Generate(ctx, msgs)
	}

	webMsg := Message{
		Role:    RoleSystem,
		Content: fmt.Sprintf(o.cfg.WebPrompt, websearch.FormatContext(results)),
	}
	augmented := make([]Message, 0, len(msgs)+1)
	if len(msgs) > 0 && msgs[0].Role == RoleSystem {
		augmented = append(augmented, msgs[0], webMsg)
		augmented = append(augmented, msgs[1:]...)
	} else {
		augmented = append(augmented, webMsg)
		augmented = append(augmented, msgs...)
	}

	answer, err := o.Generate(ctx, augmented)
	if err != nil {
		return "", err
	}
	if sources := websearch.FormatSources(results); sources != "" {
		answer += "\n\n" + sources
	}
	return answer, nil
}
