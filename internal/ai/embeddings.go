package ai

import (
	"context"
	"fmt"
	"time"

	openaisdk "github.com/openai/openai-go/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"contract-archive-platform/utils"
)

const (
	embedTimeout   = 30 * time.Second
	embedBatchSize = 32
)

// Dimension returns the configured embedding width.
func (c *Client) Dimension() int { return c.dimension }

// Embed returns one vector per input text, preserving order. Requests go out
// in batches of embedBatchSize; any batch failure aborts the whole call.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	tracer := otel.Tracer("siliconflow-client")
	ctx, span := tracer.Start(ctx, "ai.embed")
	defer span.End()

	span.SetAttributes(
		attribute.String("ai.model", c.embedModel),
		attribute.Int("ai.texts", len(texts)),
	)

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		result, err := c.execute(ctx, embedTimeout, func(ctx context.Context) (interface{}, error) {
			return c.api.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
				Model: openaisdk.EmbeddingModel(c.embedModel),
				Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
			})
		})
		if err != nil {
			span.SetAttributes(attribute.Bool("ai.error", true))
			return nil, err
		}

		resp := result.(*openaisdk.CreateEmbeddingResponse)
		if len(resp.Data) != len(batch) {
			span.SetAttributes(attribute.Bool("ai.error", true))
			return nil, utils.E(utils.KindUpstream,
				fmt.Sprintf("向量化失败: 返回数量 %d 与请求数量 %d 不一致", len(resp.Data), len(batch)))
		}
		for _, item := range resp.Data {
			if len(item.Embedding) != c.dimension {
				span.SetAttributes(attribute.Bool("ai.error", true))
				return nil, utils.E(utils.KindUpstream,
					fmt.Sprintf("向量化失败: 返回维度 %d 与配置维度 %d 不一致", len(item.Embedding), c.dimension))
			}
			vec := make([]float32, len(item.Embedding))
			for i, v := range item.Embedding {
				vec[i] = float32(v)
			}
			out = append(out, vec)
		}
	}
	return out, nil
}
