package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"contract-archive-platform/internal/ai"
	"contract-archive-platform/internal/database"
	"contract-archive-platform/internal/logger"
	"contract-archive-platform/internal/search"
	"contract-archive-platform/internal/vectorstore"
	"contract-archive-platform/models"
	"contract-archive-platform/utils"
)

const (
	qaLexicalLimit  = 15
	qaSemanticTopK  = 15
	qaRerankTopK    = 10
	qaContextChunks = 6
	qaContextRunes  = 800
	qaTitleRunes    = 50
	qaLLMTimeout    = 60 * time.Second

	qaSystemPrompt = "你是一个专业的合同档案智能助手。请基于提供的合同内容，准确、详细地回答用户问题。如果提供的内容无法完全回答问题，请明确说明。"

	qaNoContentAnswer = "抱歉，没有找到相关的合同内容。"
	qaLLMFailedAnswer = "抱歉，暂时无法生成回答。"
)

// QAService runs the hybrid question answering pipeline: lexical and
// semantic retrieval in parallel, merge, rerank, context assembly, LLM
// generation, then one persisted turn per question. Retrieval and rerank
// failures degrade the answer instead of failing the request.
type QAService struct {
	store    *database.Store
	engine   *search.Engine
	vectors  *VectorService
	reranker ai.Reranker
	llm      ai.ChatLLM
}

func NewQAService(store *database.Store, engine *search.Engine, vectors *VectorService, reranker ai.Reranker, llm ai.ChatLLM) *QAService {
	return &QAService{
		store:    store,
		engine:   engine,
		vectors:  vectors,
		reranker: reranker,
		llm:      llm,
	}
}

// qaCandidate is one retrieved chunk during merge and rerank.
type qaCandidate struct {
	ChunkID          uint
	ContractID       uint
	ContractNumber   string
	ContractName     string
	ChunkIndex       int
	Text             string
	LexicalScore     float64
	VectorSimilarity float64
	RerankScore      float64
	RerankPosition   int
	HasLexical       bool
	HasSemantic      bool
	Reranked         bool
}

func (c *qaCandidate) bestScore() float64 {
	switch {
	case c.Reranked:
		return c.RerankScore
	case c.HasLexical:
		return c.LexicalScore
	default:
		return c.VectorSimilarity
	}
}

// stageTrace is one entry of the persisted pipeline_trace JSON.
type stageTrace struct {
	Status       string `json:"status"`
	Count        int    `json:"count,omitempty"`
	TookMs       int64  `json:"took_ms"`
	InputTokens  int64  `json:"input_tokens,omitempty"`
	OutputTokens int64  `json:"output_tokens,omitempty"`
}

// Ask answers one question and persists the turn. A missing session id
// mints a new session; the session title is fixed from the first question.
func (s *QAService) Ask(ctx context.Context, req *models.QARequest) (*models.QAAnswerData, error) {
	started := time.Now()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, utils.E(utils.KindValidation, "问题不能为空")
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	if _, err := s.store.EnsureSession(ctx, sessionID, sessionTitle(question)); err != nil {
		return nil, err
	}
	order, err := s.store.NextMessageOrder(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	trace := map[string]*stageTrace{}

	lexical, matches, retrievalMs := s.retrieve(ctx, question, trace)

	candidates, err := s.merge(ctx, lexical, matches)
	if err != nil {
		// a hydration failure only drops the vector side, lexical hits
		// still answer the question
		logger.Warn("semantic candidate hydration failed", "error", err)
		candidates, _ = s.merge(ctx, lexical, nil)
	}

	lexicalUsed := false
	semanticUsed := false
	for _, c := range candidates {
		lexicalUsed = lexicalUsed || c.HasLexical
		semanticUsed = semanticUsed || c.HasSemantic
	}

	ordered := s.rerank(ctx, question, candidates, trace)

	sources, contractIDs, chunkIDs, contextText := buildContext(ordered)
	trace["context"] = &stageTrace{Status: "completed", Count: len(sources)}

	answer, responseType := s.generate(ctx, question, contextText, trace)

	var method *string
	switch {
	case lexicalUsed && semanticUsed:
		m := models.SearchMethodHybrid
		method = &m
	case lexicalUsed:
		m := models.SearchMethodKeyword
		method = &m
	case semanticUsed:
		m := models.SearchMethodSemantic
		method = &m
	}

	elapsed := time.Since(started).Milliseconds()

	srcContracts, _ := json.Marshal(contractIDs)
	srcChunks, _ := json.Marshal(chunkIDs)
	traceJSON, _ := json.Marshal(trace)

	msg := &models.QAMessage{
		SessionID:       sessionID,
		MessageOrder:    order,
		Question:        question,
		Answer:          &answer,
		SourceContracts: srcContracts,
		SourceChunks:    srcChunks,
		PipelineTrace:   traceJSON,
		SearchMethod:    method,
		AIResponseType:  &responseType,
		ResponseTimeMs:  &elapsed,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.logSearch(ctx, question, method, len(candidates), retrievalMs, sources)

	return &models.QAAnswerData{
		MessageID:       msg.ID,
		SessionID:       sessionID,
		MessageOrder:    order,
		Question:        question,
		Answer:          answer,
		SearchMethod:    method,
		SourceContracts: contractIDs,
		SourceChunks:    chunkIDs,
		ResponseTimeMs:  elapsed,
		Sources:         sources,
	}, nil
}

// retrieve runs the lexical and semantic searches in parallel. Both sides
// tolerate failure and report it through the trace.
func (s *QAService) retrieve(ctx context.Context, question string, trace map[string]*stageTrace) ([]search.ContentHit, []vectorstore.Match, int64) {
	var (
		lexical  []search.ContentHit
		matches  []vectorstore.Match
		lexTrace = &stageTrace{Status: "completed"}
		semTrace = &stageTrace{Status: "completed"}
	)

	started := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t := time.Now()
		hits, _, err := s.engine.SearchContents(gctx, question, nil, 0, qaLexicalLimit)
		lexTrace.TookMs = time.Since(t).Milliseconds()
		if err != nil {
			logger.Warn("lexical retrieval failed", "error", err)
			lexTrace.Status = "failed"
			return nil
		}
		lexical = hits
		lexTrace.Count = len(hits)
		return nil
	})
	g.Go(func() error {
		t := time.Now()
		found, err := s.vectors.SearchSimilar(gctx, question, qaSemanticTopK)
		semTrace.TookMs = time.Since(t).Milliseconds()
		if err != nil {
			logger.Warn("semantic retrieval failed", "error", err)
			semTrace.Status = "failed"
			return nil
		}
		matches = found
		semTrace.Count = len(found)
		return nil
	})
	_ = g.Wait()

	trace["lexical"] = lexTrace
	trace["semantic"] = semTrace
	return lexical, matches, time.Since(started).Milliseconds()
}

// merge combines both result sets keyed by chunk id. Lexical entries come
// first; semantic matches attach their similarity, contribute the fuller
// chunk text from the database and fill in contract metadata the lexical
// hit lacked.
func (s *QAService) merge(ctx context.Context, lexical []search.ContentHit, matches []vectorstore.Match) ([]*qaCandidate, error) {
	ordered := make([]*qaCandidate, 0, len(lexical)+len(matches))
	byID := make(map[uint]*qaCandidate, len(lexical)+len(matches))

	for _, hit := range lexical {
		c := &qaCandidate{
			ChunkID:        hit.ChunkID,
			ContractID:     hit.ContractID,
			ContractNumber: hit.ContractNumber,
			ContractName:   hit.ContractName,
			ChunkIndex:     hit.ChunkIndex,
			Text:           hit.ContentText,
			LexicalScore:   hit.Score,
			HasLexical:     true,
		}
		ordered = append(ordered, c)
		byID[c.ChunkID] = c
	}

	if len(matches) == 0 {
		return ordered, nil
	}

	chunkIDs := make([]uint, 0, len(matches))
	contractIDs := make([]uint, 0, len(matches))
	seenContract := make(map[uint]bool, len(matches))
	for _, m := range matches {
		chunkIDs = append(chunkIDs, m.ChunkID)
		if !seenContract[m.ContractID] {
			seenContract[m.ContractID] = true
			contractIDs = append(contractIDs, m.ContractID)
		}
	}

	rows, err := s.store.ChunksByIDs(ctx, chunkIDs)
	if err != nil {
		return nil, err
	}
	rowByID := make(map[uint]*models.ContractContent, len(rows))
	for i := range rows {
		rowByID[rows[i].ID] = &rows[i]
	}

	contracts, err := s.store.ContractsByIDs(ctx, contractIDs)
	if err != nil {
		return nil, err
	}
	contractByID := make(map[uint]*models.Contract, len(contracts))
	for i := range contracts {
		contractByID[contracts[i].ID] = &contracts[i]
	}

	for _, m := range matches {
		row := rowByID[m.ChunkID]
		contract := contractByID[m.ContractID]

		if c, ok := byID[m.ChunkID]; ok {
			c.HasSemantic = true
			c.VectorSimilarity = m.Score
			if row != nil && len(row.ContentText) > len(c.Text) {
				c.Text = row.ContentText
			}
			if contract != nil {
				if c.ContractNumber == "" {
					c.ContractNumber = contract.ContractNumber
				}
				if c.ContractName == "" {
					c.ContractName = contract.ContractName
				}
			}
			continue
		}

		if row == nil {
			// the chunk was deleted after indexing, the mapping entry is stale
			logger.Warn("vector match without chunk row", "chunk_id", m.ChunkID, "contract_id", m.ContractID)
			continue
		}

		c := &qaCandidate{
			ChunkID:          row.ID,
			ContractID:       row.ContractID,
			ChunkIndex:       row.ChunkIndex,
			Text:             row.ContentText,
			VectorSimilarity: m.Score,
			HasSemantic:      true,
		}
		if contract != nil {
			c.ContractNumber = contract.ContractNumber
			c.ContractName = contract.ContractName
		}
		ordered = append(ordered, c)
		byID[c.ChunkID] = c
	}

	return ordered, nil
}

// rerank reorders candidates by cross-encoder score. On failure the merge
// order stands.
func (s *QAService) rerank(ctx context.Context, question string, candidates []*qaCandidate, trace map[string]*stageTrace) []*qaCandidate {
	if len(candidates) == 0 {
		trace["rerank"] = &stageTrace{Status: "skipped"}
		return candidates
	}

	topK := qaRerankTopK
	if len(candidates) < topK {
		topK = len(candidates)
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Text
	}

	started := time.Now()
	results, err := s.reranker.Rank(ctx, question, docs, topK)
	took := time.Since(started).Milliseconds()
	if err != nil {
		logger.Warn("rerank failed, keeping merge order", "error", err)
		trace["rerank"] = &stageTrace{Status: "failed", TookMs: took}
		return candidates
	}

	reordered := make([]*qaCandidate, 0, len(results))
	for pos, r := range results {
		if r.OrigIndex < 0 || r.OrigIndex >= len(candidates) {
			continue
		}
		c := candidates[r.OrigIndex]
		c.RerankScore = r.Score
		c.RerankPosition = pos + 1
		c.Reranked = true
		reordered = append(reordered, c)
	}
	trace["rerank"] = &stageTrace{Status: "completed", Count: len(reordered), TookMs: took}
	return reordered
}

// buildContext selects the top chunks and renders the labeled blocks fed to
// the model. Contract and chunk ids keep insertion order, deduplicated.
func buildContext(ordered []*qaCandidate) ([]models.Source, []uint, []uint, string) {
	n := qaContextChunks
	if len(ordered) < n {
		n = len(ordered)
	}

	sources := make([]models.Source, 0, n)
	contractIDs := make([]uint, 0, n)
	chunkIDs := make([]uint, 0, n)
	seenContract := make(map[uint]bool, n)
	blocks := make([]string, 0, n)

	for i := 0; i < n; i++ {
		c := ordered[i]

		text := c.Text
		if runes := []rune(text); len(runes) > qaContextRunes {
			text = string(runes[:qaContextRunes]) + "..."
		}
		blocks = append(blocks, fmt.Sprintf(
			"【内容块%d】\n合同名称：%s\n合同编号：%s\n块索引：%d\n内容：%s",
			i+1, c.ContractName, c.ContractNumber, c.ChunkIndex, text))

		sources = append(sources, models.Source{
			ContractID:     c.ContractID,
			ContractNumber: c.ContractNumber,
			ContractName:   c.ContractName,
			ChunkID:        c.ChunkID,
			ChunkIndex:     c.ChunkIndex,
			Preview:        truncateRunes(c.Text, 200),
			Score:          c.bestScore(),
		})
		if !seenContract[c.ContractID] {
			seenContract[c.ContractID] = true
			contractIDs = append(contractIDs, c.ContractID)
		}
		chunkIDs = append(chunkIDs, c.ChunkID)
	}

	return sources, contractIDs, chunkIDs, strings.Join(blocks, "\n\n")
}

// generate calls the LLM over the assembled context. Empty context skips
// the call entirely; an LLM failure falls back to a fixed answer rather
// than failing the turn.
func (s *QAService) generate(ctx context.Context, question, contextText string, trace map[string]*stageTrace) (string, string) {
	if contextText == "" {
		trace["llm"] = &stageTrace{Status: "skipped"}
		return qaNoContentAnswer, "direct"
	}

	user := fmt.Sprintf(
		"根据以下合同内容，回答用户问题。请确保回答基于提供的内容，准确且有条理。\n\n相关合同内容：\n%s\n\n用户问题：%s\n\n回答要求：\n1. 基于提供的合同内容进行回答\n2. 回答要准确、具体、有条理\n3. 如果内容不足以完全回答问题，请明确说明\n4. 在回答中引用相关的合同名称和内容\n5. 保持专业和礼貌的语气",
		contextText, question)

	llmCtx, cancel := context.WithTimeout(ctx, qaLLMTimeout)
	defer cancel()

	started := time.Now()
	completion, err := s.llm.Complete(llmCtx, qaSystemPrompt, user, ai.ChatParams{
		MaxTokens:   800,
		Temperature: 0.7,
		TopP:        0.9,
	})
	took := time.Since(started).Milliseconds()
	if err != nil {
		logger.Error("llm generation failed", "error", err)
		trace["llm"] = &stageTrace{Status: "failed", TookMs: took}
		return qaLLMFailedAnswer, "search_based"
	}

	trace["llm"] = &stageTrace{
		Status:       "completed",
		TookMs:       took,
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
	}
	return completion.Text, "search_based"
}

// logSearch writes the retrieval log row for this turn. Failures only warn.
func (s *QAService) logSearch(ctx context.Context, question string, method *string, resultCount int, tookMs int64, sources []models.Source) {
	searchType := "none"
	if method != nil {
		searchType = *method
	}

	row := &models.SearchLog{
		SearchQuery:  truncateRunes(question, 500),
		SearchType:   searchType,
		ResultsCount: resultCount,
		SearchTimeMs: tookMs,
	}
	if len(sources) > 0 {
		if data, err := json.Marshal(sources); err == nil {
			row.SearchResults = data
		}
	}
	if err := s.store.CreateSearchLog(ctx, row); err != nil {
		logger.Warn("search log write failed", "error", err)
	}
}

func sessionTitle(question string) string {
	runes := []rune(question)
	if len(runes) <= qaTitleRunes {
		return question
	}
	return string(runes[:qaTitleRunes]) + "..."
}
