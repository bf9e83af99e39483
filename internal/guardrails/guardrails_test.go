package guardrails

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/llm"
)

// scriptedClient replays one canned completion per call.
type scriptedClient struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
}

func (s *scriptedClient) Name() string { return "scripted" }

func (s *scriptedClient) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	idx := s.calls
	s.calls++
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	return &llm.Response{IsComplete: true, Content: s.replies[idx], FinishReason: llm.FinishStop}, nil
}

func (s *scriptedClient) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func happyReplies() []string {
	return []string{
		`{"goal":"choose a laptop for travel"}`,
		`{"entities":["MacBook Air","ThinkPad X1"],"options":["MacBook Air","ThinkPad X1"]}`,
		`{"constraints":["budget under $1500","needs 14 hours of battery"]}`,
		`{"decision":"the MacBook Air fits both constraints","response":"Go with the MacBook Air. It comes in under your $1500 budget and the battery clears 14 hours comfortably."}`,
	}
}

func newCoordinator(client llm.Client, mode string) *Coordinator {
	return New(client, "", config.GuardrailsConfig{Mode: mode}, nil)
}

func TestRunHappyPath(t *testing.T) {
	client := &scriptedClient{replies: happyReplies()}
	c := newCoordinator(client, config.GuardrailsAlways)

	res := c.Run(context.Background(), "should I get the MacBook Air or the ThinkPad X1 for travel?")
	if !res.Used {
		t.Fatal("Used = false, want true")
	}
	if !strings.HasPrefix(res.Text, "Go with the MacBook Air.") {
		t.Errorf("Text = %q", res.Text)
	}
	wantRationale := []string{
		"Goal: choose a laptop for travel",
		"Constraint: budget under $1500",
		"Constraint: needs 14 hours of battery",
		"Decision: the MacBook Air fits both constraints",
	}
	if !reflect.DeepEqual(res.Rationale, wantRationale) {
		t.Errorf("Rationale = %v, want %v", res.Rationale, wantRationale)
	}
	if client.count() != 4 {
		t.Errorf("LLM calls = %d, want 4", client.count())
	}
	if res.LLMCalls != 4 {
		t.Errorf("LLMCalls = %d, want 4", res.LLMCalls)
	}
}

func TestRunAcceptsFencedJSON(t *testing.T) {
	replies := happyReplies()
	replies[0] = "```json\n" + replies[0] + "\n```"
	client := &scriptedClient{replies: replies}
	c := newCoordinator(client, config.GuardrailsAlways)

	if res := c.Run(context.Background(), "should I get A or B?"); !res.Used {
		t.Error("fenced JSON aborted the pipeline")
	}
}

func TestRunMalformedStageAborts(t *testing.T) {
	tests := []struct {
		name      string
		stage     int
		reply     string
		wantCalls int
	}{
		{"goal not json", 0, "The goal is to pick a laptop.", 1},
		{"goal empty string", 0, `{"goal":""}`, 1},
		{"goal extra key", 0, `{"goal":"pick","mood":"upbeat"}`, 1},
		{"options wrong type", 1, `{"entities":"MacBook","options":[]}`, 2},
		{"constraints wrong type", 2, `{"constraints":"cheap"}`, 3},
		{"decision missing key", 3, `{"decision":"the Air"}`, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			replies := happyReplies()
			replies[tt.stage] = tt.reply
			client := &scriptedClient{replies: replies}
			c := newCoordinator(client, config.GuardrailsAlways)

			res := c.Run(context.Background(), "should I get A or B?")
			if res.Used {
				t.Fatalf("Used = true, want abort; text %q", res.Text)
			}
			if res.Text != "" || len(res.Rationale) != 0 {
				t.Errorf("aborted result not empty: %+v", res)
			}
			if client.count() != tt.wantCalls {
				t.Errorf("LLM calls = %d, want %d", client.count(), tt.wantCalls)
			}
			if res.LLMCalls != tt.wantCalls {
				t.Errorf("LLMCalls = %d, want %d", res.LLMCalls, tt.wantCalls)
			}
		})
	}
}

func TestRunClientErrorAborts(t *testing.T) {
	client := &scriptedClient{err: errors.New("connection refused")}
	c := newCoordinator(client, config.GuardrailsAlways)
	res := c.Run(context.Background(), "should I get A or B?")
	if res.Used {
		t.Error("Used = true after transport error")
	}
	if res.LLMCalls != 0 {
		t.Errorf("LLMCalls = %d, want 0 after transport error", res.LLMCalls)
	}
}

func TestRunScrubsRationale(t *testing.T) {
	replies := happyReplies()
	replies[2] = `{"constraints":["budget under $1500","my step-by-step analysis says battery matters"]}`
	client := &scriptedClient{replies: replies}
	c := newCoordinator(client, config.GuardrailsAlways)

	res := c.Run(context.Background(), "should I get A or B?")
	if !res.Used {
		t.Fatal("Used = false, want true")
	}
	for _, line := range res.Rationale {
		if line == "Constraint: my step-by-step analysis says battery matters" {
			t.Errorf("deny-listed line survived: %q", line)
		}
	}
	want := []string{
		"Goal: choose a laptop for travel",
		"Constraint: budget under $1500",
		"Decision: the MacBook Air fits both constraints",
	}
	if !reflect.DeepEqual(res.Rationale, want) {
		t.Errorf("Rationale = %v, want %v", res.Rationale, want)
	}
}

func TestEnabled(t *testing.T) {
	client := &scriptedClient{replies: happyReplies()}
	tests := []struct {
		name string
		mode string
		msg  string
		want bool
	}{
		{"off mode", config.GuardrailsOff, "should I buy A or B?", false},
		{"always mode", config.GuardrailsAlways, "what's the capital of France?", true},
		{"auto with trigger", config.GuardrailsAuto, "should I buy the Air or the X1?", true},
		{"auto with pros cons", config.GuardrailsAuto, "give me the pros and cons of each", true},
		{"auto without trigger", config.GuardrailsAuto, "what's the capital of France?", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCoordinator(client, tt.mode)
			if got := c.Enabled(tt.msg); got != tt.want {
				t.Errorf("Enabled(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestEnabledWithoutClient(t *testing.T) {
	c := newCoordinator(nil, config.GuardrailsAlways)
	if c.Enabled("should I buy A or B?") {
		t.Error("Enabled = true with nil client")
	}
}
