package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"contract-archive-platform/internal/ai"
	"contract-archive-platform/internal/config"
	"contract-archive-platform/internal/database"
	"contract-archive-platform/internal/search"
	"contract-archive-platform/internal/vectorstore"
	"contract-archive-platform/models"
	"contract-archive-platform/utils"
)

func newTestStore(t *testing.T) *database.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return database.NewStore(db)
}

// fakeSearchEngine points a real engine at a stub node. The product header
// satisfies the client's response validation.
func fakeSearchEngine(t *testing.T, handler http.HandlerFunc) *search.Engine {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())
	engine, err := search.New(&config.Config{
		ElasticsearchEnabled: true,
		ElasticsearchHost:    u.Hostname(),
		ElasticsearchPort:    port,
	})
	if err != nil {
		t.Fatalf("search.New: %v", err)
	}
	return engine
}

func disabledSearchEngine(t *testing.T) *search.Engine {
	t.Helper()
	engine, err := search.New(&config.Config{ElasticsearchEnabled: false})
	if err != nil {
		t.Fatalf("search.New: %v", err)
	}
	return engine
}

type stubEmbedder struct {
	vector []float32
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = s.vector
	}
	return out, nil
}

func (s *stubEmbedder) Dimension() int { return len(s.vector) }

type stubReranker struct {
	results []ai.RerankResult
	err     error
	gotDocs []string
	calls   int
}

func (s *stubReranker) Rank(_ context.Context, _ string, docs []string, _ int) ([]ai.RerankResult, error) {
	s.calls++
	s.gotDocs = docs
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

type stubLLM struct {
	text  string
	err   error
	calls int
}

func (s *stubLLM) Complete(_ context.Context, _, _ string, _ ai.ChatParams) (*ai.Completion, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &ai.Completion{Text: s.text, InputTokens: 12, OutputTokens: 34}, nil
}

// seedQACorpus creates one contract with three chunks and returns them in
// chunk_index order.
func seedQACorpus(t *testing.T, store *database.Store) (*models.Contract, []models.ContractContent) {
	t.Helper()
	ctx := context.Background()

	c := &models.Contract{
		ContractNumber: "HT-2024-009",
		ContractName:   "设备采购合同",
		FileName:       "HT-2024-009-设备采购合同.pdf",
		FilePath:       "data/uploads/2024/03/01/x.pdf",
		FileSize:       2048,
		FileFormat:     "PDF",
	}
	if err := store.CreateContract(ctx, c); err != nil {
		t.Fatalf("CreateContract: %v", err)
	}

	if err := store.ReplaceChunks(ctx, c.ID, []models.ContractContent{
		{ContractID: c.ID, ChunkIndex: 0, ContentText: "双方确认本合同附件与正文具有同等效力", ChunkSize: 18},
		{ContractID: c.ID, ChunkIndex: 1, ContentText: "本合同付款方式为银行转账，按月支付", ChunkSize: 17},
		{ContractID: c.ID, ChunkIndex: 2, ContentText: "乙方应在每月最后一个工作日前完成货款结算", ChunkSize: 19},
	}); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}

	chunks, err := store.ListChunks(ctx, c.ID)
	if err != nil || len(chunks) != 3 {
		t.Fatalf("ListChunks: %d rows, err %v", len(chunks), err)
	}
	return c, chunks
}

func TestAskMergesBothRetrievers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	contract, chunks := seedQACorpus(t, store)
	lexHit, semHit := chunks[1], chunks[2]

	// Lexical side returns only the chunk carrying the query term.
	engine := fakeSearchEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/_search") {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"hits": map[string]interface{}{
				"total": map[string]interface{}{"value": 1},
				"hits": []map[string]interface{}{
					{
						"_id":    "chunk_" + strconv.Itoa(int(lexHit.ID)),
						"_score": 3.4,
						"_source": map[string]interface{}{
							"chunk_id":        lexHit.ID,
							"contract_id":     contract.ID,
							"contract_number": contract.ContractNumber,
							"contract_name":   contract.ContractName,
							"chunk_index":     lexHit.ChunkIndex,
							"content_text":    lexHit.ContentText,
						},
					},
				},
			},
		})
	})

	// Semantic side holds a vector only for the settlement chunk, so the
	// query comes back with exactly that match.
	index, err := vectorstore.Open(t.TempDir(), 4)
	if err != nil {
		t.Fatalf("vectorstore.Open: %v", err)
	}
	if _, err := index.Add(
		[][]float32{{0, 0, 1, 0}},
		[]vectorstore.ChunkRef{{ContractID: contract.ID, ChunkID: semHit.ID, ChunkIndex: semHit.ChunkIndex}},
	); err != nil {
		t.Fatalf("index.Add: %v", err)
	}
	vectors := NewVectorService(&stubEmbedder{vector: []float32{0, 0, 1, 0}}, index, store)

	// The reranker prefers the semantic hit over the lexical one.
	reranker := &stubReranker{results: []ai.RerankResult{
		{OrigIndex: 1, Score: 0.92},
		{OrigIndex: 0, Score: 0.41},
	}}
	llm := &stubLLM{text: "根据合同内容，付款方式为银行转账。"}

	qa := NewQAService(store, engine, vectors, reranker, llm)
	data, err := qa.Ask(ctx, &models.QARequest{Question: "付款方式是什么"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	// Merge order is lexical first, then semantic.
	wantDocs := []string{lexHit.ContentText, semHit.ContentText}
	if !reflect.DeepEqual(reranker.gotDocs, wantDocs) {
		t.Errorf("rerank input = %v, want %v", reranker.gotDocs, wantDocs)
	}

	// The rerank order is what gets persisted.
	wantChunks := []uint{semHit.ID, lexHit.ID}
	if !reflect.DeepEqual(data.SourceChunks, wantChunks) {
		t.Errorf("source chunks = %v, want %v", data.SourceChunks, wantChunks)
	}
	if data.SearchMethod == nil || *data.SearchMethod != models.SearchMethodHybrid {
		t.Errorf("search method = %v, want hybrid", data.SearchMethod)
	}
	if data.Answer != llm.text {
		t.Errorf("answer = %q", data.Answer)
	}
	if len(data.Sources) != 2 || data.Sources[0].ChunkID != semHit.ID || data.Sources[0].Score != 0.92 {
		t.Errorf("unexpected sources: %+v", data.Sources)
	}
	if !reflect.DeepEqual(data.SourceContracts, []uint{contract.ID}) {
		t.Errorf("source contracts = %v", data.SourceContracts)
	}

	msgs, err := store.SessionMessages(ctx, data.SessionID)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("SessionMessages: %d rows, err %v", len(msgs), err)
	}
	var persisted []uint
	if err := json.Unmarshal(msgs[0].SourceChunks, &persisted); err != nil {
		t.Fatalf("source_chunks json: %v", err)
	}
	if !reflect.DeepEqual(persisted, wantChunks) {
		t.Errorf("persisted source chunks = %v, want %v", persisted, wantChunks)
	}
	if msgs[0].SearchMethod == nil || *msgs[0].SearchMethod != models.SearchMethodHybrid {
		t.Errorf("persisted search method = %v", msgs[0].SearchMethod)
	}

	var trace map[string]struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(msgs[0].PipelineTrace, &trace); err != nil {
		t.Fatalf("pipeline_trace json: %v", err)
	}
	for _, stage := range []string{"lexical", "semantic", "rerank", "context", "llm"} {
		if trace[stage].Status != "completed" {
			t.Errorf("stage %s status = %q, want completed", stage, trace[stage].Status)
		}
	}

	if _, total, err := store.ListSearchLogs(ctx, 1, 10); err != nil || total != 1 {
		t.Errorf("expected 1 search log, got %d (err %v)", total, err)
	}
}

func TestAskWithoutContextAnswersFixed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	index, err := vectorstore.Open(t.TempDir(), 4)
	if err != nil {
		t.Fatalf("vectorstore.Open: %v", err)
	}
	vectors := NewVectorService(&stubEmbedder{vector: []float32{1, 0, 0, 0}}, index, store)
	reranker := &stubReranker{}
	llm := &stubLLM{text: "不应被调用"}

	qa := NewQAService(store, disabledSearchEngine(t), vectors, reranker, llm)
	data, err := qa.Ask(ctx, &models.QARequest{Question: "付款方式是什么"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if data.Answer != "抱歉，没有找到相关的合同内容。" {
		t.Errorf("answer = %q", data.Answer)
	}
	if data.SearchMethod != nil {
		t.Errorf("search method = %q, want nil", *data.SearchMethod)
	}
	if len(data.SourceChunks) != 0 || len(data.SourceContracts) != 0 {
		t.Errorf("expected no sources, got chunks=%v contracts=%v", data.SourceChunks, data.SourceContracts)
	}
	if reranker.calls != 0 {
		t.Error("reranker called without candidates")
	}
	if llm.calls != 0 {
		t.Error("llm called without context")
	}

	msgs, err := store.SessionMessages(ctx, data.SessionID)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("SessionMessages: %d rows, err %v", len(msgs), err)
	}
	if msgs[0].SearchMethod != nil {
		t.Errorf("persisted search method = %v, want nil", msgs[0].SearchMethod)
	}
	if msgs[0].AIResponseType == nil || *msgs[0].AIResponseType != "direct" {
		t.Errorf("persisted response type = %v, want direct", msgs[0].AIResponseType)
	}
	var persisted []uint
	if err := json.Unmarshal(msgs[0].SourceChunks, &persisted); err != nil || len(persisted) != 0 {
		t.Errorf("persisted source chunks = %v (err %v), want empty", persisted, err)
	}
}

func TestAskRerankFailureKeepsMergeOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	contract, chunks := seedQACorpus(t, store)
	lexHit, semHit := chunks[1], chunks[2]

	engine := fakeSearchEngine(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"hits": map[string]interface{}{
				"total": map[string]interface{}{"value": 1},
				"hits": []map[string]interface{}{
					{
						"_id":    "chunk_" + strconv.Itoa(int(lexHit.ID)),
						"_score": 2.0,
						"_source": map[string]interface{}{
							"chunk_id":        lexHit.ID,
							"contract_id":     contract.ID,
							"contract_number": contract.ContractNumber,
							"contract_name":   contract.ContractName,
							"chunk_index":     lexHit.ChunkIndex,
							"content_text":    lexHit.ContentText,
						},
					},
				},
			},
		})
	})

	index, err := vectorstore.Open(t.TempDir(), 4)
	if err != nil {
		t.Fatalf("vectorstore.Open: %v", err)
	}
	if _, err := index.Add(
		[][]float32{{0, 1, 0, 0}},
		[]vectorstore.ChunkRef{{ContractID: contract.ID, ChunkID: semHit.ID, ChunkIndex: semHit.ChunkIndex}},
	); err != nil {
		t.Fatalf("index.Add: %v", err)
	}
	vectors := NewVectorService(&stubEmbedder{vector: []float32{0, 1, 0, 0}}, index, store)

	reranker := &stubReranker{err: errors.New("rerank endpoint down")}
	llm := &stubLLM{text: "回答"}

	qa := NewQAService(store, engine, vectors, reranker, llm)
	data, err := qa.Ask(ctx, &models.QARequest{Question: "付款方式是什么"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	// Merge order survives: lexical hit first, semantic second.
	wantChunks := []uint{lexHit.ID, semHit.ID}
	if !reflect.DeepEqual(data.SourceChunks, wantChunks) {
		t.Errorf("source chunks = %v, want %v", data.SourceChunks, wantChunks)
	}
	if data.SearchMethod == nil || *data.SearchMethod != models.SearchMethodHybrid {
		t.Errorf("search method = %v, want hybrid", data.SearchMethod)
	}
	if data.Answer != llm.text {
		t.Errorf("answer = %q, want llm output despite rerank failure", data.Answer)
	}
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	store := newTestStore(t)
	index, err := vectorstore.Open(t.TempDir(), 4)
	if err != nil {
		t.Fatalf("vectorstore.Open: %v", err)
	}
	vectors := NewVectorService(&stubEmbedder{vector: []float32{1, 0, 0, 0}}, index, store)

	qa := NewQAService(store, disabledSearchEngine(t), vectors, &stubReranker{}, &stubLLM{})
	_, err = qa.Ask(context.Background(), &models.QARequest{Question: "   "})
	if utils.KindOf(err) != utils.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}
