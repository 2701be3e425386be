package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"contract-archive-platform/internal/config"
	"contract-archive-platform/utils"
)

// fakeES answers like an 8.x node, including the product header the client
// verifies before trusting responses.
func fakeES(t *testing.T, handler http.HandlerFunc) (*Engine, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		handler(w, r)
	}))

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())
	cfg := &config.Config{
		ElasticsearchEnabled: true,
		ElasticsearchHost:    u.Hostname(),
		ElasticsearchPort:    port,
	}
	engine, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return engine, srv
}

func TestDisabledEngineAnswersUnavailable(t *testing.T) {
	engine, err := New(&config.Config{ElasticsearchEnabled: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if engine.Enabled() {
		t.Error("engine should report disabled")
	}
	if engine.Available(context.Background()) {
		t.Error("disabled engine should not be available")
	}
	_, _, err = engine.SearchContents(context.Background(), "付款", nil, 0, 10)
	if kind := utils.KindOf(err); kind != utils.KindUnavailable {
		t.Errorf("expected unavailable, got %s (%v)", kind, err)
	}
}

func TestSearchContentsParsesHits(t *testing.T) {
	engine, srv := fakeES(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/_search") {
			http.NotFound(w, r)
			return
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["highlight"]; !ok {
			t.Error("search body missing highlight block")
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"hits": map[string]interface{}{
				"total": map[string]interface{}{"value": 2},
				"hits": []map[string]interface{}{
					{
						"_id":    "chunk_5",
						"_score": 3.2,
						"_source": map[string]interface{}{
							"chunk_id":        5,
							"contract_id":     1,
							"contract_number": "HT-2024-001",
							"contract_name":   "采购合同",
							"chunk_index":     0,
							"content_text":    "本合同的付款期限为三十日",
							"chunk_type":      "paragraph",
							"chunk_size":      12,
						},
						"highlight": map[string]interface{}{
							"content_text": []string{"<em>付款期限</em>为三十日"},
						},
					},
					{
						"_id":    "chunk_6",
						"_score": 1.1,
						"_source": map[string]interface{}{
							"chunk_id":     6,
							"contract_id":  2,
							"chunk_index":  3,
							"content_text": "违约责任条款",
						},
					},
				},
			},
		})
	})
	defer srv.Close()

	hits, total, err := engine.SearchContents(context.Background(), "付款期限", []uint{1, 2}, 0, 15)
	if err != nil {
		t.Fatalf("SearchContents: %v", err)
	}
	if total != 2 {
		t.Errorf("expected total 2, got %d", total)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	first := hits[0]
	if first.ChunkID != 5 || first.ContractNumber != "HT-2024-001" || first.Score != 3.2 {
		t.Errorf("unexpected first hit: %+v", first)
	}
	if len(first.Highlights) != 1 || !strings.Contains(first.Highlights[0], "付款期限") {
		t.Errorf("missing highlights: %+v", first.Highlights)
	}
}

func TestEnsureIndicesCreatesOnlyMissing(t *testing.T) {
	created := map[string]bool{}
	engine, srv := fakeES(t, func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		switch r.Method {
		case http.MethodHead:
			if name == ContractsIndex {
				w.WriteHeader(http.StatusNotFound)
			} else {
				w.WriteHeader(http.StatusOK)
			}
		case http.MethodPut:
			created[name] = true
			json.NewEncoder(w).Encode(map[string]interface{}{"acknowledged": true})
		default:
			http.NotFound(w, r)
		}
	})
	defer srv.Close()

	if err := engine.EnsureIndices(context.Background()); err != nil {
		t.Fatalf("EnsureIndices: %v", err)
	}
	if !created[ContractsIndex] {
		t.Error("contracts index should have been created")
	}
	if created[ContentsIndex] {
		t.Error("existing contract_contents index should not be recreated")
	}
}

func TestDeleteContractTolerates404(t *testing.T) {
	var deleteByQuery bool
	engine, srv := fakeES(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodDelete && strings.Contains(r.URL.Path, "/_doc/"):
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]interface{}{"result": "not_found"})
		case strings.HasSuffix(r.URL.Path, "/_delete_by_query"):
			deleteByQuery = true
			json.NewEncoder(w).Encode(map[string]interface{}{"deleted": 4})
		default:
			http.NotFound(w, r)
		}
	})
	defer srv.Close()

	if err := engine.DeleteContract(context.Background(), 7); err != nil {
		t.Fatalf("DeleteContract should tolerate missing doc: %v", err)
	}
	if !deleteByQuery {
		t.Error("chunk documents were not deleted")
	}
}
