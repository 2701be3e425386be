package ai

import (
	"context"
	"time"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"contract-archive-platform/utils"
)

const chatTimeout = 60 * time.Second

// Complete sends a system+user prompt pair to the chat model. Zero-valued
// params fall back to the answer-generation defaults.
func (c *Client) Complete(ctx context.Context, system, user string, params ChatParams) (*Completion, error) {
	tracer := otel.Tracer("siliconflow-client")
	ctx, span := tracer.Start(ctx, "ai.chat_completion")
	defer span.End()

	if params.MaxTokens <= 0 {
		params.MaxTokens = 800
	}
	if params.Temperature <= 0 {
		params.Temperature = 0.7
	}
	if params.TopP <= 0 {
		params.TopP = 0.9
	}

	span.SetAttributes(
		attribute.String("ai.model", c.llmModel),
		attribute.Int("ai.prompt_chars", len(system)+len(user)),
		attribute.Int64("ai.max_tokens", params.MaxTokens),
	)

	req := openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(c.llmModel),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(system),
			openaisdk.UserMessage(user),
		},
		MaxTokens:   param.NewOpt(params.MaxTokens),
		Temperature: param.NewOpt(params.Temperature),
		TopP:        param.NewOpt(params.TopP),
	}

	result, err := c.execute(ctx, chatTimeout, func(ctx context.Context) (interface{}, error) {
		return c.api.Chat.Completions.New(ctx, req)
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("ai.error", true))
		return nil, err
	}

	completion := result.(*openaisdk.ChatCompletion)
	if len(completion.Choices) == 0 {
		span.SetAttributes(attribute.Bool("ai.error", true))
		return nil, utils.E(utils.KindUpstream, "生成回答失败: 模型无返回内容")
	}

	choice := completion.Choices[0]
	out := &Completion{
		Text:         choice.Message.Content,
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
		FinishReason: string(choice.FinishReason),
	}
	span.SetAttributes(
		attribute.Int64("ai.input_tokens", out.InputTokens),
		attribute.Int64("ai.output_tokens", out.OutputTokens),
		attribute.String("ai.finish_reason", out.FinishReason),
	)
	return out, nil
}
