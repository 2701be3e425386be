package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"contract-archive-platform/internal/config"
	"contract-archive-platform/internal/logger"
	"contract-archive-platform/models"
	"contract-archive-platform/utils"
)

const (
	ContractsIndex = "contracts"
	ContentsIndex  = "contract_contents"
)

const contractsMapping = `{
  "mappings": {
    "properties": {
      "contract_id": {"type": "integer"},
      "contract_number": {"type": "keyword"},
      "contract_name": {"type": "text", "analyzer": "standard"},
      "contract_type": {"type": "keyword"},
      "keywords": {"type": "text", "analyzer": "standard"},
      "summary": {"type": "text", "analyzer": "standard"},
      "file_name": {"type": "keyword"},
      "upload_time": {"type": "date"},
      "created_at": {"type": "date"}
    }
  }
}`

const contentsMapping = `{
  "mappings": {
    "properties": {
      "chunk_id": {"type": "integer"},
      "contract_id": {"type": "integer"},
      "contract_number": {"type": "keyword"},
      "contract_name": {"type": "keyword"},
      "chunk_index": {"type": "integer"},
      "content_text": {"type": "text", "analyzer": "standard"},
      "chunk_type": {"type": "keyword"},
      "chunk_size": {"type": "integer"},
      "file_name": {"type": "keyword"},
      "file_format": {"type": "keyword"},
      "upload_time": {"type": "date"},
      "contract_type": {"type": "keyword"},
      "created_at": {"type": "date"}
    }
  }
}`

// ContentHit is one lexical search hit from the chunk index.
type ContentHit struct {
	ChunkID        uint       `json:"chunk_id"`
	ContractID     uint       `json:"contract_id"`
	ContractNumber string     `json:"contract_number"`
	ContractName   string     `json:"contract_name"`
	ChunkIndex     int        `json:"chunk_index"`
	ContentText    string     `json:"content_text"`
	ChunkType      string     `json:"chunk_type"`
	ChunkSize      int        `json:"chunk_size"`
	FileName       string     `json:"file_name,omitempty"`
	FileFormat     string     `json:"file_format,omitempty"`
	UploadTime     *time.Time `json:"upload_time,omitempty"`
	ContractType   string     `json:"contract_type,omitempty"`
	Score          float64    `json:"score"`
	Highlights     []string   `json:"highlights,omitempty"`
}

// ContractHit is one hit from the contract-level index.
type ContractHit struct {
	ContractID     uint                `json:"contract_id"`
	ContractNumber string              `json:"contract_number"`
	ContractName   string              `json:"contract_name"`
	ContractType   string              `json:"contract_type,omitempty"`
	FileName       string              `json:"file_name"`
	Score          float64             `json:"score"`
	Highlights     map[string][]string `json:"highlights,omitempty"`
}

// Health describes cluster state for the status endpoint.
type Health struct {
	Status      string `json:"status"`
	ClusterName string `json:"cluster_name"`
	Nodes       int    `json:"number_of_nodes"`
}

// IndexCounts reports document totals per index.
type IndexCounts struct {
	Contracts int64 `json:"contracts"`
	Chunks    int64 `json:"contract_contents"`
}

// Engine wraps the Elasticsearch client behind the operations the pipeline
// and the search routes need. When disabled by config every operation
// answers with an unavailable error so callers can fall back.
type Engine struct {
	client  *elasticsearch.Client
	enabled bool
}

var errDisabled = utils.E(utils.KindUnavailable, "Elasticsearch服务不可用")

// New builds the engine. Connection problems are not fatal here: the engine
// reports them per-call so the API can keep serving with SQL fallbacks.
func New(cfg *config.Config) (*Engine, error) {
	if !cfg.ElasticsearchEnabled {
		logger.Info("elasticsearch disabled by config")
		return &Engine{enabled: false}, nil
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     []string{cfg.ElasticsearchAddress()},
		Username:      cfg.ElasticsearchUser,
		Password:      cfg.ElasticsearchPassword,
		MaxRetries:    3,
		RetryOnStatus: []int{502, 503, 504, 429},
	})
	if err != nil {
		return nil, utils.Wrap(utils.KindInternal, "Elasticsearch客户端初始化失败", err)
	}
	return &Engine{client: client, enabled: true}, nil
}

// Enabled reports the configured state, regardless of reachability.
func (e *Engine) Enabled() bool { return e.enabled }

// Available pings the cluster.
func (e *Engine) Available(ctx context.Context) bool {
	if !e.enabled {
		return false
	}
	res, err := e.client.Ping(e.client.Ping.WithContext(ctx))
	if err != nil {
		return false
	}
	defer res.Body.Close()
	return !res.IsError()
}

// EnsureIndices creates both indices when missing.
func (e *Engine) EnsureIndices(ctx context.Context) error {
	if !e.enabled {
		return errDisabled
	}
	for name, mapping := range map[string]string{
		ContractsIndex: contractsMapping,
		ContentsIndex:  contentsMapping,
	} {
		exists, err := e.indexExists(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		res, err := e.client.Indices.Create(
			name,
			e.client.Indices.Create.WithBody(strings.NewReader(mapping)),
			e.client.Indices.Create.WithContext(ctx),
		)
		if err != nil {
			return utils.Wrap(utils.KindUpstream, fmt.Sprintf("创建索引 %s 失败", name), err)
		}
		closed := drain(res)
		if res.IsError() && res.StatusCode != 400 { // 400: lost race, already exists
			return utils.E(utils.KindUpstream, fmt.Sprintf("创建索引 %s 失败: %s", name, closed))
		}
		logger.Info("elasticsearch index created", "index", name)
	}
	return nil
}

func (e *Engine) indexExists(ctx context.Context, name string) (bool, error) {
	res, err := e.client.Indices.Exists([]string{name}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, utils.Wrap(utils.KindUpstream, "检查索引失败", err)
	}
	defer res.Body.Close()
	return res.StatusCode == 200, nil
}

// IndexContract writes the contract-level document. Keywords come from the
// caller so the extractor stays out of this package.
func (e *Engine) IndexContract(ctx context.Context, c *models.Contract, keywords []string) error {
	if !e.enabled {
		return errDisabled
	}
	doc := map[string]interface{}{
		"contract_id":     c.ID,
		"contract_number": c.ContractNumber,
		"contract_name":   c.ContractName,
		"contract_type":   deref(c.ContractType),
		"keywords":        strings.Join(keywords, " "),
		"summary":         deref(c.Summary),
		"file_name":       c.FileName,
		"upload_time":     c.UploadTime,
		"created_at":      c.CreatedAt,
	}
	return e.indexDoc(ctx, ContractsIndex, fmt.Sprintf("contract_%d", c.ID), doc)
}

// IndexChunk writes one chunk document, denormalizing contract metadata so
// content hits can render without a database join.
func (e *Engine) IndexChunk(ctx context.Context, chunk *models.ContractContent, c *models.Contract) error {
	if !e.enabled {
		return errDisabled
	}
	doc := map[string]interface{}{
		"chunk_id":        chunk.ID,
		"contract_id":     chunk.ContractID,
		"contract_number": c.ContractNumber,
		"contract_name":   c.ContractName,
		"chunk_index":     chunk.ChunkIndex,
		"content_text":    chunk.ContentText,
		"chunk_type":      chunk.ChunkType,
		"chunk_size":      chunk.ChunkSize,
		"file_name":       c.FileName,
		"file_format":     c.FileFormat,
		"upload_time":     c.UploadTime,
		"contract_type":   deref(c.ContractType),
		"created_at":      chunk.CreatedAt,
	}
	return e.indexDoc(ctx, ContentsIndex, fmt.Sprintf("chunk_%d", chunk.ID), doc)
}

func (e *Engine) indexDoc(ctx context.Context, index, id string, doc map[string]interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return utils.Wrap(utils.KindInternal, "索引文档序列化失败", err)
	}
	res, err := e.client.Index(
		index,
		bytes.NewReader(body),
		e.client.Index.WithDocumentID(id),
		e.client.Index.WithContext(ctx),
	)
	if err != nil {
		return utils.Wrap(utils.KindUpstream, "索引文档失败", err)
	}
	detail := drain(res)
	if res.IsError() {
		return utils.E(utils.KindUpstream, fmt.Sprintf("索引文档失败: %s", detail))
	}
	return nil
}

// SearchContents runs the lexical chunk query: multi_match across the chunk
// text and the denormalized contract fields, optionally filtered to a set of
// contracts. Returns hits plus the total match count.
func (e *Engine) SearchContents(ctx context.Context, query string, contractIDs []uint, from, size int) ([]ContentHit, int64, error) {
	if !e.enabled {
		return nil, 0, errDisabled
	}

	must := map[string]interface{}{
		"multi_match": map[string]interface{}{
			"query":     query,
			"fields":    []string{"content_text^2", "contract_name", "contract_number"},
			"type":      "best_fields",
			"fuzziness": "AUTO",
		},
	}
	boolQuery := map[string]interface{}{"must": []interface{}{must}}
	if len(contractIDs) > 0 {
		boolQuery["filter"] = []interface{}{
			map[string]interface{}{"terms": map[string]interface{}{"contract_id": contractIDs}},
		}
	}

	body := map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"highlight": map[string]interface{}{
			"fields": map[string]interface{}{
				"content_text": map[string]interface{}{
					"fragment_size":       150,
					"number_of_fragments": 3,
				},
			},
		},
		"sort": []interface{}{
			map[string]interface{}{"_score": map[string]interface{}{"order": "desc"}},
			map[string]interface{}{"chunk_index": map[string]interface{}{"order": "asc"}},
		},
		"from": from,
		"size": size,
	}

	envelope, err := e.search(ctx, ContentsIndex, body)
	if err != nil {
		return nil, 0, err
	}

	hits := make([]ContentHit, 0, len(envelope.Hits.Hits))
	for _, h := range envelope.Hits.Hits {
		var hit ContentHit
		if err := json.Unmarshal(h.Source, &hit); err != nil {
			continue
		}
		hit.Score = h.Score
		if frags, ok := h.Highlight["content_text"]; ok {
			hit.Highlights = frags
		}
		hits = append(hits, hit)
	}
	return hits, envelope.Hits.Total.Value, nil
}

// SearchContracts runs the contract-level query with field boosts mirroring
// how users identify contracts: name over number over keywords.
func (e *Engine) SearchContracts(ctx context.Context, query string, from, size int) ([]ContractHit, int64, error) {
	if !e.enabled {
		return nil, 0, errDisabled
	}

	body := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":     query,
				"fields":    []string{"contract_name^3", "contract_number^2", "keywords^2", "summary", "contract_type"},
				"type":      "best_fields",
				"fuzziness": "AUTO",
			},
		},
		"highlight": map[string]interface{}{
			"fields": map[string]interface{}{
				"contract_name": map[string]interface{}{},
				"keywords":      map[string]interface{}{},
				"summary":       map[string]interface{}{},
			},
		},
		"from": from,
		"size": size,
	}

	envelope, err := e.search(ctx, ContractsIndex, body)
	if err != nil {
		return nil, 0, err
	}

	hits := make([]ContractHit, 0, len(envelope.Hits.Hits))
	for _, h := range envelope.Hits.Hits {
		var hit ContractHit
		if err := json.Unmarshal(h.Source, &hit); err != nil {
			continue
		}
		hit.Score = h.Score
		hit.Highlights = h.Highlight
		hits = append(hits, hit)
	}
	return hits, envelope.Hits.Total.Value, nil
}

type searchEnvelope struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID        string              `json:"_id"`
			Score     float64             `json:"_score"`
			Source    json.RawMessage     `json:"_source"`
			Highlight map[string][]string `json:"highlight"`
		} `json:"hits"`
	} `json:"hits"`
}

func (e *Engine) search(ctx context.Context, index string, body map[string]interface{}) (*searchEnvelope, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, utils.Wrap(utils.KindInternal, "搜索请求序列化失败", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(index),
		e.client.Search.WithBody(&buf),
		e.client.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, utils.Wrap(utils.KindUpstream, "搜索请求失败", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		detail, _ := io.ReadAll(res.Body)
		return nil, utils.E(utils.KindUpstream, fmt.Sprintf("搜索请求失败: %s", detail))
	}

	var envelope searchEnvelope
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, utils.Wrap(utils.KindUpstream, "搜索响应解析失败", err)
	}
	return &envelope, nil
}

// DeleteContract drops the contract document and every chunk document.
func (e *Engine) DeleteContract(ctx context.Context, contractID uint) error {
	if !e.enabled {
		return errDisabled
	}

	res, err := e.client.Delete(
		ContractsIndex,
		fmt.Sprintf("contract_%d", contractID),
		e.client.Delete.WithContext(ctx),
	)
	if err != nil {
		return utils.Wrap(utils.KindUpstream, "删除合同索引失败", err)
	}
	drain(res)
	if res.IsError() && res.StatusCode != 404 {
		return utils.E(utils.KindUpstream, fmt.Sprintf("删除合同索引失败: 状态 %d", res.StatusCode))
	}

	query := fmt.Sprintf(`{"query": {"term": {"contract_id": %d}}}`, contractID)
	dbq, err := e.client.DeleteByQuery(
		[]string{ContentsIndex},
		strings.NewReader(query),
		e.client.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return utils.Wrap(utils.KindUpstream, "删除内容索引失败", err)
	}
	drain(dbq)
	if dbq.IsError() {
		return utils.E(utils.KindUpstream, fmt.Sprintf("删除内容索引失败: 状态 %d", dbq.StatusCode))
	}
	return nil
}

// Health reads cluster status for the elasticsearch status endpoint.
func (e *Engine) Health(ctx context.Context) (*Health, error) {
	if !e.enabled {
		return nil, errDisabled
	}
	res, err := e.client.Cluster.Health(e.client.Cluster.Health.WithContext(ctx))
	if err != nil {
		return nil, utils.Wrap(utils.KindUpstream, "获取集群状态失败", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, utils.E(utils.KindUpstream, fmt.Sprintf("获取集群状态失败: 状态 %d", res.StatusCode))
	}

	var health Health
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return nil, utils.Wrap(utils.KindUpstream, "集群状态解析失败", err)
	}
	return &health, nil
}

// Counts returns document totals for both indices.
func (e *Engine) Counts(ctx context.Context) (*IndexCounts, error) {
	if !e.enabled {
		return nil, errDisabled
	}
	contracts, err := e.count(ctx, ContractsIndex)
	if err != nil {
		return nil, err
	}
	chunks, err := e.count(ctx, ContentsIndex)
	if err != nil {
		return nil, err
	}
	return &IndexCounts{Contracts: contracts, Chunks: chunks}, nil
}

func (e *Engine) count(ctx context.Context, index string) (int64, error) {
	res, err := e.client.Count(
		e.client.Count.WithContext(ctx),
		e.client.Count.WithIndex(index),
	)
	if err != nil {
		return 0, utils.Wrap(utils.KindUpstream, "统计索引文档失败", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		// Missing index counts as empty.
		if res.StatusCode == 404 {
			return 0, nil
		}
		return 0, utils.E(utils.KindUpstream, fmt.Sprintf("统计索引文档失败: 状态 %d", res.StatusCode))
	}

	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, utils.Wrap(utils.KindUpstream, "统计响应解析失败", err)
	}
	return out.Count, nil
}

// ResetIndices drops and recreates both indices. Maintenance only.
func (e *Engine) ResetIndices(ctx context.Context) error {
	if !e.enabled {
		return errDisabled
	}
	res, err := e.client.Indices.Delete(
		[]string{ContractsIndex, ContentsIndex},
		e.client.Indices.Delete.WithContext(ctx),
		e.client.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return utils.Wrap(utils.KindUpstream, "删除索引失败", err)
	}
	drain(res)
	if res.IsError() {
		return utils.E(utils.KindUpstream, fmt.Sprintf("删除索引失败: 状态 %d", res.StatusCode))
	}
	return e.EnsureIndices(ctx)
}

// drain reads and closes a response body so the transport can reuse the
// connection, returning the payload for error detail.
func drain(res *esapi.Response) string {
	if res == nil || res.Body == nil {
		return ""
	}
	data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	res.Body.Close()
	return string(data)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
