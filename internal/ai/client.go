package ai

import (
	"context"
	"errors"
	"net/http"
	"time"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"contract-archive-platform/internal/config"
	"contract-archive-platform/internal/logger"
	"contract-archive-platform/utils"
)

// VisionOCR recognizes one page image into raw HTML.
type VisionOCR interface {
	RecognizePage(ctx context.Context, imageBytes []byte, pageNum, totalPages int) (string, error)
}

// Embedder converts texts into dense vectors, order preserved.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// RerankResult is one scored document from the reranker.
type RerankResult struct {
	OrigIndex int
	Score     float64
}

// Reranker scores documents against a query, best first.
type Reranker interface {
	Rank(ctx context.Context, query string, docs []string, topK int) ([]RerankResult, error)
}

// Completion is one chat response with token accounting.
type Completion struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	FinishReason string
}

// ChatParams tunes one completion call. Zero values fall back to defaults.
type ChatParams struct {
	MaxTokens   int64
	Temperature float64
	TopP        float64
}

// ChatLLM generates an answer from a system and user prompt.
type ChatLLM interface {
	Complete(ctx context.Context, system, user string, params ChatParams) (*Completion, error)
}

// Client talks to the SiliconFlow OpenAI-compatible API. It implements
// VisionOCR, Embedder, Reranker and ChatLLM behind one circuit breaker and
// one client-side rate limiter.
type Client struct {
	apiKey      string
	baseURL     string
	ocrModel    string
	embedModel  string
	rerankModel string
	llmModel    string
	dimension   int

	api        openaisdk.Client
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
}

func NewClient(cfg *config.Config) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.SiliconFlowAPIKey)}
	if cfg.SiliconFlowBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.SiliconFlowBaseURL))
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "SiliconFlowAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	rpm := cfg.AIRequestsPerMin
	if rpm <= 0 {
		rpm = 60
	}
	burst := rpm / 10
	if burst < 1 {
		burst = 1
	}
	// RPM limit with some buffer
	limiter := rate.NewLimiter(rate.Limit(float64(rpm)*0.9/60.0), burst)

	return &Client{
		apiKey:      cfg.SiliconFlowAPIKey,
		baseURL:     cfg.SiliconFlowBaseURL,
		ocrModel:    cfg.OCRModel,
		embedModel:  cfg.EmbeddingModel,
		rerankModel: cfg.RerankModel,
		llmModel:    cfg.LLMModel,
		dimension:   cfg.VectorDim,
		api:         openaisdk.NewClient(opts...),
		httpClient:  &http.Client{Timeout: 35 * time.Second},
		breaker:     breaker,
		limiter:     limiter,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// execute runs fn under the rate limiter and circuit breaker with a
// per-call deadline, classifying any failure into an error kind.
func (c *Client) execute(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if c.apiKey == "" {
		return nil, utils.E(utils.KindUnavailable, "AI 服务未配置")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, utils.Wrap(utils.KindUnavailable, "AI 请求排队失败", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return fn(callCtx)
	})
	if err != nil {
		return nil, classify(err)
	}
	return result, nil
}

// classify maps transport failures onto the error kind taxonomy.
func classify(err error) error {
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		return err
	}
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return utils.Wrap(utils.KindUnavailable, "AI 服务暂时不可用", err)
	case errors.Is(err, context.DeadlineExceeded):
		return utils.Wrap(utils.KindTimeout, "AI 服务请求超时", err)
	default:
		return utils.Wrap(utils.KindUpstream, "AI 服务调用失败", err)
	}
}
