package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavelanni/boost/internal/llm/prompts"
	"github.com/pavelanni/boost/internal/model"
)

// fakeOpenAI serves a one-model list and answers chat completion requests
// with content, recording the system prompt it was sent.
func fakeOpenAI(t *testing.T, content string, gotPrompt *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models" {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"data":   []map[string]any{{"id": "test-model", "object": "model"}},
			})
			return
		}
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) > 0 && gotPrompt != nil {
			*gotPrompt = req.Messages[0].Content
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStudyAdvice(t *testing.T) {
	var prompt string
	srv := fakeOpenAI(t, `{"summary":"Good start.","focus":["verbs","listening","reading"]}`, &prompt)

	c, err := New(srv.URL+"/v1", "test-key", "test-model", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	advice, err := c.StudyAdvice(context.Background(), AdviceRequest{
		Level:          model.LevelB1,
		LevelLabel:     "B1 (Intermedio)",
		CorrectAnswers: 12,
		Language:       "Spanish",
	})
	if err != nil {
		t.Fatalf("StudyAdvice: %v", err)
	}
	if advice.Summary != "Good start." {
		t.Errorf("Summary = %q, want 'Good start.'", advice.Summary)
	}
	if len(advice.Focus) != 3 {
		t.Errorf("len(Focus) = %d, want 3", len(advice.Focus))
	}

	for _, want := range []string{"12 of 20", "B1 (Intermedio)", "Write in Spanish"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt should contain %q:\n%s", want, prompt)
		}
	}
}

func TestStudyAdviceRejectsUnknownLevel(t *testing.T) {
	srv := fakeOpenAI(t, `{"summary":"x"}`, nil)
	c, err := New(srv.URL+"/v1", "k", "m", prompts.VariantBrief)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.StudyAdvice(context.Background(), AdviceRequest{Level: "C2"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestPing(t *testing.T) {
	srv := fakeOpenAI(t, "", nil)

	c, err := New(srv.URL+"/v1", "k", "test-model", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}

	c, err = New(srv.URL+"/v1", "k", "missing-model", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Error("expected error for a model the endpoint does not serve")
	}
}

func TestNewRejectsUnknownVariant(t *testing.T) {
	if _, err := New("", "k", "m", "verbose"); err == nil {
		t.Error("expected error for unknown variant")
	}
}

func TestParseAdvice(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"plain", `{"summary":"Keep going.","focus":[]}`, "Keep going.", false},
		{"fenced", "```json\n{\"summary\":\"Fenced.\"}\n```", "Fenced.", false},
		{"empty summary", `{"summary":"  "}`, "", true},
		{"not json", `Keep going.`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAdvice(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseAdvice(%q) expected error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseAdvice(%q): %v", tt.raw, err)
			}
			if got.Summary != tt.want {
				t.Errorf("Summary = %q, want %q", got.Summary, tt.want)
			}
		})
	}
}
