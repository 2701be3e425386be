package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"contract-archive-platform/utils"
)

const rerankTimeout = 30 * time.Second

// The rerank endpoint has no SDK binding, so the request goes out as a plain
// POST against {base}/rerank with bearer auth.
type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopK      int      `json:"top_k,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rank scores docs against the query and returns them ordered by relevance.
// topK <= 0 returns all documents ranked.
func (c *Client) Rank(ctx context.Context, query string, docs []string, topK int) ([]RerankResult, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	tracer := otel.Tracer("siliconflow-client")
	ctx, span := tracer.Start(ctx, "ai.rerank")
	defer span.End()

	span.SetAttributes(
		attribute.String("ai.model", c.rerankModel),
		attribute.Int("ai.documents", len(docs)),
		attribute.Int("ai.top_k", topK),
	)

	payload := rerankRequest{
		Model:     c.rerankModel,
		Query:     query,
		Documents: docs,
	}
	if topK > 0 {
		payload.TopK = topK
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, utils.Wrap(utils.KindInternal, "重排序请求序列化失败", err)
	}

	result, err := c.execute(ctx, rerankTimeout, func(ctx context.Context) (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, utils.E(utils.KindUpstream, fmt.Sprintf("重排序服务返回状态 %d", resp.StatusCode))
		}

		var parsed rerankResponse
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, utils.Wrap(utils.KindUpstream, "重排序响应解析失败", err)
		}
		return &parsed, nil
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("ai.error", true))
		return nil, err
	}

	parsed := result.(*rerankResponse)
	ranked := make([]RerankResult, 0, len(parsed.Results))
	for _, item := range parsed.Results {
		if item.Index < 0 || item.Index >= len(docs) {
			continue
		}
		ranked = append(ranked, RerankResult{OrigIndex: item.Index, Score: item.RelevanceScore})
	}
	span.SetAttributes(attribute.Int("ai.results", len(ranked)))
	return ranked, nil
}
