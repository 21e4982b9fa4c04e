package generate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/umka-bot/umka/websearch"
)

func sseChunk(text string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`+"\n\n", text)
}

func newStreamServer(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprint(w, sseChunk(c))
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func newBackend(baseURL string) *OpenAI {
	return NewOpenAI(OpenAIConfig{
		APIKey:       "test-key",
		BaseURL:      baseURL,
		Model:        "test-model",
		StallTimeout: 5 * time.Second,
		Retries:      3,
	})
}

func TestStreamGenerateAccumulatesChunks(t *testing.T) {
	srv := newStreamServer(t, []string{"Привет", ", ", "мир"})
	defer srv.Close()

	o := newBackend(srv.URL)
	var got []string
	answer, err := o.StreamGenerate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, func(chunk string) {
		got = append(got, chunk)
	})
	if err != nil {
		t.Fatalf("StreamGenerate failed: %v", err)
	}
	if answer != "Привет, мир" {
		t.Errorf("Expected accumulated answer, got %q", answer)
	}
	if len(got) != 3 {
		t.Errorf("Expected 3 chunks, got %d", len(got))
	}
}

func TestStreamGenerateEmptyIsFailure(t *testing.T) {
	srv := newStreamServer(t, nil)
	defer srv.Close()

	o := newBackend(srv.URL)
	_, err := o.StreamGenerate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, func(string) {})
	if !errors.Is(err, ErrStreamFailed) {
		t.Errorf("Expected ErrStreamFailed for empty stream, got %v", err)
	}
}

func TestStreamGenerateServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := newBackend(srv.URL)
	_, err := o.StreamGenerate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, func(string) {})
	if !errors.Is(err, ErrStreamFailed) {
		t.Errorf("Expected ErrStreamFailed, got %v", err)
	}
}

func TestGenerateRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	o := newBackend(srv.URL)
	answer, err := o.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if answer != "ok" {
		t.Errorf("Expected ok, got %q", answer)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
}

func TestGenerateExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := newBackend(srv.URL)
	_, err := o.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("Expected ErrGenerationFailed, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
}

func TestGenerateWithWebToolInjectsContextAndSources(t *testing.T) {
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Heading":"Bitcoin","AbstractText":"BTC is at 60k.","AbstractURL":"https://example.org/btc","RelatedTopics":[]}`)
	}))
	defer search.Close()

	var sawWebContext bool
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		if strings.Contains(string(body), "BTC is at 60k.") {
			sawWebContext = true
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Биткоин стоит 60k."}}]}`)
	}))
	defer llm.Close()

	o := newBackend(llm.URL)
	o.search = websearch.NewClientWithEndpoints(search.URL+"/", search.URL+"/summary/")

	answer, err := o.GenerateWithWebTool(context.Background(),
		[]Message{{Role: RoleSystem, Content: "persona"}, {Role: RoleUser, Content: "курс биткоина"}},
		"курс биткоина", "ru")
	if err != nil {
		t.Fatalf("GenerateWithWebTool failed: %v", err)
	}
	if !sawWebContext {
		t.Error("Expected search snippet injected into the prompt")
	}
	if !strings.Contains(answer, "Источники:") || !strings.Contains(answer, "https://example.org/btc") {
		t.Errorf("Expected sources block appended, got %q", answer)
	}
	if strings.Contains(answer, "<a ") {
		t.Errorf("Expected plain-text sources, got %q", answer)
	}
}

func TestGenerateWithWebToolDegradesWhenSearchDown(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"plain answer"}}]}`)
	}))
	defer llm.Close()

	o := newBackend(llm.URL)
	o.search = websearch.NewClientWithEndpoints(down.URL+"/", down.URL+"/summary/")

	answer, err := o.GenerateWithWebTool(context.Background(),
		[]Message{{Role: RoleUser, Content: "query"}}, "query", "en")
	if err != nil {
		t.Fatalf("Expected degradation to plain completion, got %v", err)
	}
	if answer != "plain answer" {
		t.Errorf("Expected plain answer without sources, got %q", answer)
	}
}
