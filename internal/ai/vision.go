package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"contract-archive-platform/utils"
)

const visionTimeout = 30 * time.Second

// The OCR prompts pin the model to bare HTML output. Thinking-style models
// leak reasoning text without the hard "no think tags" instructions.
const (
	ocrSystemPrompt = "你是一个专业的OCR识别工具。只输出HTML格式的识别结果，绝对不要输出任何思考过程、分析、解释或<think>标签内容。对于空白页面，直接返回空字符串。严格按照用户要求输出。"

	ocrUserPrompt = "请识别图片中的文字内容并转换为HTML格式。\n\n要求：\n1. 只输出HTML代码，不要任何解释\n2. 不要输出思考过程或分析\n3. 不要使用<think>标签\n4. 空白页直接返回空字符串\n5. 表格用<table>标签，标题用<h1>-<h3>标签\n\n直接开始输出HTML："
)

// RecognizePage runs vision OCR on one rasterized PDF page and returns the
// raw model output. The caller cleans and merges page fragments.
func (c *Client) RecognizePage(ctx context.Context, imageBytes []byte, pageNum, totalPages int) (string, error) {
	tracer := otel.Tracer("siliconflow-client")
	ctx, span := tracer.Start(ctx, "ai.vision_ocr")
	defer span.End()

	span.SetAttributes(
		attribute.String("ai.model", c.ocrModel),
		attribute.Int("ai.page", pageNum),
		attribute.Int("ai.total_pages", totalPages),
		attribute.Int("ai.image_bytes", len(imageBytes)),
	)

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(imageBytes)

	params := openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(c.ocrModel),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(ocrSystemPrompt),
			openaisdk.UserMessage([]openaisdk.ChatCompletionContentPartUnionParam{
				openaisdk.ImageContentPart(openaisdk.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
				openaisdk.TextContentPart(ocrUserPrompt),
			}),
		},
		MaxTokens:   param.NewOpt[int64](3000),
		Temperature: param.NewOpt(0.01),
	}

	result, err := c.execute(ctx, visionTimeout, func(ctx context.Context) (interface{}, error) {
		return c.api.Chat.Completions.New(ctx, params)
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("ai.error", true))
		return "", err
	}

	completion := result.(*openaisdk.ChatCompletion)
	if len(completion.Choices) == 0 {
		span.SetAttributes(attribute.Bool("ai.error", true))
		return "", utils.E(utils.KindUpstream, fmt.Sprintf("OCR识别失败: 第%d页无返回内容", pageNum))
	}

	text := completion.Choices[0].Message.Content
	span.SetAttributes(attribute.Int("ai.output_chars", len(text)))
	return text, nil
}
