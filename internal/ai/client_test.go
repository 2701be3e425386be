package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"contract-archive-platform/internal/config"
	"contract-archive-platform/utils"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		SiliconFlowAPIKey:  "test-key",
		SiliconFlowBaseURL: baseURL,
		OCRModel:           "test-ocr",
		EmbeddingModel:     "test-embed",
		RerankModel:        "test-rerank",
		LLMModel:           "test-llm",
		VectorDim:          4,
		AIRequestsPerMin:   60000, // keep the limiter out of the way
	}
}

func TestEmbedConvertsAndPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{
				{"object": "embedding", "index": 0, "embedding": []float64{1, 0, 0, 0}},
				{"object": "embedding", "index": 1, "embedding": []float64{0, 1, 0, 0}},
			},
			"model": "test-embed",
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	vectors, err := c.Embed(context.Background(), []string{"甲方", "乙方"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if vectors[0][0] != 1 || vectors[1][1] != 1 {
		t.Errorf("vectors out of order: %v", vectors)
	}
}

func TestEmbedRejectsDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{
				{"object": "embedding", "index": 0, "embedding": []float64{1, 0, 0}},
			},
			"model": "test-embed",
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.Embed(context.Background(), []string{"甲方"})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	if kind := utils.KindOf(err); kind != utils.KindUpstream {
		t.Errorf("expected upstream kind, got %s", kind)
	}
}

func TestRankSkipsOutOfRangeIndexes(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rerank" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{"index": 1, "relevance_score": 0.92},
				{"index": 0, "relevance_score": 0.41},
				{"index": 9, "relevance_score": 0.10},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	results, err := c.Rank(context.Background(), "付款期限", []string{"文档一", "文档二"}, 10)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("missing bearer auth, got %q", gotAuth)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results (out-of-range dropped), got %d", len(results))
	}
	if results[0].OrigIndex != 1 || results[0].Score != 0.92 {
		t.Errorf("unexpected first result: %+v", results[0])
	}
}

func TestCompleteAppliesDefaults(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"message":       map[string]interface{}{"role": "assistant", "content": "根据合同约定..."},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]interface{}{"prompt_tokens": 120, "completion_tokens": 45},
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	out, err := c.Complete(context.Background(), "系统提示", "用户问题", ChatParams{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out.Text != "根据合同约定..." {
		t.Errorf("unexpected text: %q", out.Text)
	}
	if out.InputTokens != 120 || out.OutputTokens != 45 {
		t.Errorf("unexpected usage: %+v", out)
	}
	if out.FinishReason != "stop" {
		t.Errorf("unexpected finish reason: %q", out.FinishReason)
	}
	if got, ok := captured["max_tokens"].(float64); !ok || got != 800 {
		t.Errorf("expected default max_tokens 800, got %v", captured["max_tokens"])
	}
}

func TestRecognizePageSendsImageFirst(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "cmpl-2",
			"object": "chat.completion",
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"message":       map[string]interface{}{"role": "assistant", "content": "<h1>合同标题</h1>"},
					"finish_reason": "stop",
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	html, err := c.RecognizePage(context.Background(), []byte{0x89, 0x50, 0x4e, 0x47}, 1, 3)
	if err != nil {
		t.Fatalf("RecognizePage: %v", err)
	}
	if html != "<h1>合同标题</h1>" {
		t.Errorf("unexpected html: %q", html)
	}

	messages, _ := captured["messages"].([]interface{})
	if len(messages) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(messages))
	}
	user, _ := messages[1].(map[string]interface{})
	parts, _ := user["content"].([]interface{})
	if len(parts) != 2 {
		t.Fatalf("expected image+text parts, got %d", len(parts))
	}
	first, _ := parts[0].(map[string]interface{})
	if first["type"] != "image_url" {
		t.Errorf("expected image part first, got %v", first["type"])
	}
}

func TestUnconfiguredClientFailsFast(t *testing.T) {
	cfg := testConfig("http://localhost:0")
	cfg.SiliconFlowAPIKey = ""
	c := NewClient(cfg)

	if c.Configured() {
		t.Error("Configured should be false without an API key")
	}
	_, err := c.Embed(context.Background(), []string{"任意文本"})
	if err == nil {
		t.Fatal("expected error from unconfigured client")
	}
	if kind := utils.KindOf(err); kind != utils.KindUnavailable {
		t.Errorf("expected unavailable kind, got %s", kind)
	}
}
