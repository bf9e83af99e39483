package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/internal/utility"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// stubClassifier replays a canned completion and counts calls.
type stubClassifier struct {
	mu      sync.Mutex
	content string
	err     error
	calls   int
}

func (s *stubClassifier) Name() string { return "stub" }

func (s *stubClassifier) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{IsComplete: true, Content: s.content, FinishReason: llm.FinishStop}, nil
}

func (s *stubClassifier) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestRouter(classifier llm.Client, cfg config.RouterConfig) *Router {
	return New(utility.NewEngine(config.UtilityConfig{}), classifier, "", cfg, nil)
}

func TestRoutePrefixOverrides(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		intent  models.Intent
		cleaned string
	}{
		{"slash search", "/search btc price", models.IntentLookupSearch, "btc price"},
		{"colon search", "search: btc price", models.IntentLookupSearch, "btc price"},
		{"colon search no space", "search:btc price", models.IntentLookupSearch, "btc price"},
		{"slash chat", "/chat what is 6x7", models.IntentChatOnly, "what is 6x7"},
		{"slash browse", "/browse example.com", models.IntentBrowseOnce, "example.com"},
		{"bare slash screen", "/screen", models.IntentScreenObserve, ""},
		{"remember colon", "remember: the wifi password is hunter2", models.IntentMemoryWrite, "the wifi password is hunter2"},
		{"recall", "/recall favorite color", models.IntentMemoryRead, "favorite color"},
	}
	classifier := &stubClassifier{content: `{"intent":"chat_only","confidence":0.9}`}
	r := newTestRouter(classifier, config.RouterConfig{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.Route(context.Background(), tt.msg, SessionFlags{})
			if out.Intent != tt.intent {
				t.Fatalf("intent = %q, want %q", out.Intent, tt.intent)
			}
			if out.Layer != LayerPrefix {
				t.Errorf("layer = %q, want %q", out.Layer, LayerPrefix)
			}
			if out.Confidence != 1.0 {
				t.Errorf("confidence = %v, want 1.0", out.Confidence)
			}
			if out.CleanedMessage != tt.cleaned {
				t.Errorf("cleaned = %q, want %q", out.CleanedMessage, tt.cleaned)
			}
		})
	}
	if classifier.count() != 0 {
		t.Errorf("prefix routing reached the LLM %d times", classifier.count())
	}
}

func TestRoutePrefixRequiresBoundary(t *testing.T) {
	classifier := &stubClassifier{content: `{"intent":"chat_only","confidence":0.9}`}
	r := newTestRouter(classifier, config.RouterConfig{})
	out := r.Route(context.Background(), "searching for my keys", SessionFlags{})
	if out.Layer == LayerPrefix {
		t.Fatalf("'searching...' routed as prefix: %+v", out)
	}
}

func TestRouteUtilityLayer(t *testing.T) {
	classifier := &stubClassifier{content: `{"intent":"lookup_fact","confidence":0.9}`}
	r := newTestRouter(classifier, config.RouterConfig{})

	out := r.Route(context.Background(), "350F in C", SessionFlags{})
	if out.Intent != models.IntentUtilityDeterministic {
		t.Fatalf("intent = %q, want utility_deterministic", out.Intent)
	}
	if out.Layer != LayerUtility || out.Confidence != 1.0 {
		t.Errorf("layer = %q confidence = %v", out.Layer, out.Confidence)
	}
	if out.NeedsWeb || out.NeedsSearch {
		t.Errorf("needs_web = %v needs_search = %v, want false", out.NeedsWeb, out.NeedsSearch)
	}
	if out.Utility == nil || out.Utility.Kind != utility.KindInline {
		t.Fatalf("utility match = %+v", out.Utility)
	}
	if !out.RequiredCapabilities.Has(models.CapDeterministicUtility) {
		t.Error("missing deterministic_utility capability")
	}
	if classifier.count() != 0 {
		t.Errorf("utility routing reached the LLM %d times", classifier.count())
	}
}

func TestRouteHeuristics(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		intent models.Intent
		cap    models.Capability
	}{
		{"news", "any news about the election?", models.IntentLookupNews, models.CapWebSearch},
		{"fact", "who is the prime minister of Canada", models.IntentLookupFact, models.CapWebSearch},
		{"screen", "what's on my screen right now?", models.IntentScreenObserve, models.CapScreenObserve},
		{"file", "read the file notes.txt", models.IntentFileTask, models.CapFileAccess},
		{"system", "run the command ls -la", models.IntentSystemTask, models.CapSystemExecute},
		{"browse", "navigate to example.com and summarize it", models.IntentBrowseOnce, models.CapBrowserControl},
		{"memory write", "remember that my dog is named Biscuit", models.IntentMemoryWrite, models.CapMemoryWrite},
		{"memory read", "what do you remember about my dog?", models.IntentMemoryRead, models.CapMemoryRead},
	}
	classifier := &stubClassifier{content: `{"intent":"chat_only","confidence":0.9}`}
	r := newTestRouter(classifier, config.RouterConfig{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.Route(context.Background(), tt.msg, SessionFlags{})
			if out.Intent != tt.intent {
				t.Fatalf("intent = %q, want %q", out.Intent, tt.intent)
			}
			if out.Layer != LayerHeuristic {
				t.Errorf("layer = %q, want %q", out.Layer, LayerHeuristic)
			}
			if out.Confidence != 0.8 {
				t.Errorf("confidence = %v, want 0.8", out.Confidence)
			}
			if !out.RequiredCapabilities.Has(tt.cap) {
				t.Errorf("capabilities missing %q", tt.cap)
			}
		})
	}
	if classifier.count() != 0 {
		t.Errorf("heuristic routing reached the LLM %d times", classifier.count())
	}
}

func TestRouteMemoryBeatsFact(t *testing.T) {
	r := newTestRouter(nil, config.RouterConfig{})
	out := r.Route(context.Background(), "remember that the capital of France is Paris", SessionFlags{})
	if out.Intent != models.IntentMemoryWrite {
		t.Fatalf("intent = %q, want memory_write", out.Intent)
	}
}

func TestRouteFollowUpNeedsRecentSearch(t *testing.T) {
	r := newTestRouter(nil, config.RouterConfig{})

	out := r.Route(context.Background(), "show me more sources", SessionFlags{HasRecentSearch: true})
	if out.Intent != models.IntentLookupSearch || out.Layer != LayerHeuristic {
		t.Fatalf("with recent search: %+v", out)
	}

	out = r.Route(context.Background(), "show me more sources", SessionFlags{})
	if out.Intent == models.IntentLookupSearch {
		t.Fatalf("without recent search routed to lookup_search")
	}
}

func TestRouteLLMFallback(t *testing.T) {
	classifier := &stubClassifier{content: `{"intent":"one_shot_discovery","confidence":0.72}`}
	r := newTestRouter(classifier, config.RouterConfig{})

	out := r.Route(context.Background(), "find the pelican pedals pricing page and what it costs", SessionFlags{})
	if out.Intent != models.IntentOneShotDiscovery {
		t.Fatalf("intent = %q, want one_shot_discovery", out.Intent)
	}
	if out.Layer != LayerLLM {
		t.Errorf("layer = %q, want %q", out.Layer, LayerLLM)
	}
	if out.Confidence != 0.72 {
		t.Errorf("confidence = %v, want 0.72", out.Confidence)
	}
	if !out.RequiredCapabilities.Has(models.CapWebSearch) || !out.RequiredCapabilities.Has(models.CapBrowserControl) {
		t.Error("discovery capabilities incomplete")
	}
	if classifier.count() != 1 {
		t.Errorf("classifier calls = %d, want 1", classifier.count())
	}
}

func TestRouteLLMFailureFallsBackToChat(t *testing.T) {
	tests := []struct {
		name       string
		classifier *stubClassifier
	}{
		{"transport error", &stubClassifier{err: errors.New("connection refused")}},
		{"unknown label", &stubClassifier{content: `{"intent":"world_domination","confidence":0.99}`}},
		{"not json", &stubClassifier{content: "I think this is probably a question about cooking."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(tt.classifier, config.RouterConfig{})
			out := r.Route(context.Background(), "ponder the nature of existence for me", SessionFlags{})
			if out.Intent != models.IntentChatOnly {
				t.Fatalf("intent = %q, want chat_only", out.Intent)
			}
			if out.Layer != LayerLLM {
				t.Errorf("layer = %q, want %q", out.Layer, LayerLLM)
			}
		})
	}
}

func TestRouteLLMBareLabel(t *testing.T) {
	classifier := &stubClassifier{content: "system_task"}
	r := newTestRouter(classifier, config.RouterConfig{})
	out := r.Route(context.Background(), "ponder the nature of existence for me", SessionFlags{})
	if out.Intent != models.IntentSystemTask {
		t.Fatalf("intent = %q, want system_task", out.Intent)
	}
	if out.Confidence != defaultLLMConfidence {
		t.Errorf("confidence = %v, want %v", out.Confidence, defaultLLMConfidence)
	}
}

func TestRouteWithoutClassifier(t *testing.T) {
	r := newTestRouter(nil, config.RouterConfig{})
	out := r.Route(context.Background(), "ponder the nature of existence for me", SessionFlags{})
	if out.Intent != models.IntentChatOnly || out.Layer != LayerFallback {
		t.Fatalf("out = %+v", out)
	}
}

func TestRouteLLMFallbackDisabled(t *testing.T) {
	off := false
	classifier := &stubClassifier{content: `{"intent":"system_task","confidence":0.9}`}
	r := newTestRouter(classifier, config.RouterConfig{LLMFallback: &off})
	out := r.Route(context.Background(), "ponder the nature of existence for me", SessionFlags{})
	if out.Intent != models.IntentChatOnly || out.Layer != LayerFallback {
		t.Fatalf("out = %+v", out)
	}
	if classifier.count() != 0 {
		t.Errorf("disabled classifier was called %d times", classifier.count())
	}
}

func TestRouteConfigPatterns(t *testing.T) {
	cfg := config.RouterConfig{ExtraPatterns: map[string][]string{
		"system_task":       {"deploy the site"},
		"not_a_real_intent": {"ignored"},
	}}
	r := newTestRouter(nil, cfg)
	out := r.Route(context.Background(), "could you deploy the site for me", SessionFlags{})
	if out.Intent != models.IntentSystemTask || out.Layer != LayerHeuristic {
		t.Fatalf("out = %+v", out)
	}
}

func TestComputeNeeds(t *testing.T) {
	tests := []struct {
		name        string
		intent      models.Intent
		msg         string
		needsWeb    bool
		needsSearch bool
	}{
		{"lookup fact", models.IntentLookupFact, "who is the pm", true, true},
		{"lookup news", models.IntentLookupNews, "any news", true, true},
		{"browse", models.IntentBrowseOnce, "open example.com", true, false},
		{"discovery", models.IntentOneShotDiscovery, "find the pricing page", true, false},
		{"chat plain", models.IntentChatOnly, "tell me a story", false, false},
		{"chat temporal", models.IntentChatOnly, "what should I cook today", true, false},
		{"general temporal", models.IntentGeneralTool, "latest figures please", true, false},
		{"file task temporal", models.IntentFileTask, "list files from today", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			web, search := computeNeeds(tt.intent, tt.msg)
			if web != tt.needsWeb || search != tt.needsSearch {
				t.Errorf("computeNeeds(%q, %q) = (%v, %v), want (%v, %v)",
					tt.intent, tt.msg, web, search, tt.needsWeb, tt.needsSearch)
			}
		})
	}
}
