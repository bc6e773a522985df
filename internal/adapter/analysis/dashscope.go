package analysis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"lookback/internal/domain"
	"lookback/internal/infra/config"
	"lookback/internal/infra/tracer"
)

// analysisPrompt asks the vision model for a one-to-two sentence activity
// description. Responses are in Chinese to match the extension UI.
const analysisPrompt = `请分析这张屏幕截图，描述用户当前正在进行的活动。请用中文回答，并且简洁明了地描述：

1. 用户正在使用什么应用程序或网站
2. 用户正在进行什么具体活动（比如编程、浏览网页、写文档、看视频等）
3. 如果能看出来，用户在处理什么具体内容

请用一到两句话简洁地总结用户的当前活动。`

// DashScopeClient implements domain.AnalysisService against the DashScope
// native HTTP API. Screenshot analysis goes through the multimodal endpoint;
// time-range summaries use the plain text-generation endpoint.
//
// API key and model name are resolved per call through the settings source,
// so update_settings takes effect without a restart.
type DashScopeClient struct {
	cfg      config.AnalysisConfig
	settings domain.SettingsSource
	client   *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewDashScopeClient creates a client with configured timeouts and a request
// rate cap.
func NewDashScopeClient(cfg config.AnalysisConfig, settings domain.SettingsSource, logger *slog.Logger) *DashScopeClient {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://dashscope.aliyuncs.com/api/v1"
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}

	return &DashScopeClient{
		cfg:      cfg,
		settings: settings,
		client:   NewHTTPClient(cfg),
		limiter:  rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		logger:   logger,
	}
}

// Analyze sends the screenshot and recent-activity context to the vision
// model and returns its activity description.
func (c *DashScopeClient) Analyze(ctx context.Context, image []byte, contextText string) (domain.Analysis, error) {
	ctx, span := tracer.StartSpan(ctx, "analysis.analyze",
		trace.WithAttributes(tracer.StringAttr("analysis.model", c.model())),
	)
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		tracer.RecordError(span, err)
		return domain.Analysis{}, fmt.Errorf("rate limit wait: %w", err)
	}

	prompt := analysisPrompt
	if contextText != "" {
		prompt += "\n\n额外上下文信息：" + contextText
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)

	req := multimodalRequest{
		Model: c.model(),
		Input: multimodalInput{
			Messages: []multimodalMessage{{
				Role: "user",
				Content: []multimodalContent{
					{Image: dataURL},
					{Text: prompt},
				},
			}},
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Analysis{}, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, c.client,
		c.cfg.BaseURL+"/services/aigc/multimodal-generation/generation",
		body, c.headers())
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Analysis{}, err
	}

	var mmResp multimodalResponse
	if err := json.Unmarshal(respBody, &mmResp); err != nil {
		tracer.RecordError(span, err)
		return domain.Analysis{}, fmt.Errorf("unmarshal response: %w", err)
	}

	answer := mmResp.answerText()
	if answer == "" {
		err := fmt.Errorf("no answer content in response (request %s)", mmResp.RequestID)
		tracer.RecordError(span, err)
		return domain.Analysis{}, err
	}

	tracer.SetOK(span)
	c.logger.Debug("screenshot analyzed",
		"model", c.model(),
		"tokens", mmResp.Usage.TotalTokens,
	)
	return domain.Analysis{
		Description: answer,
		Confidence:  domain.ConfidenceHigh,
		Success:     true,
	}, nil
}

// Summarize asks the text model to answer query over the given activities.
func (c *DashScopeClient) Summarize(ctx context.Context, query string, activities []domain.CycleResult) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "analysis.summarize",
		trace.WithAttributes(
			tracer.StringAttr("analysis.model", c.summaryModel()),
			tracer.IntAttr("analysis.activities", len(activities)),
		),
	)
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		tracer.RecordError(span, err)
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(query)
	sb.WriteString("\n\n活动记录:\n")
	for _, a := range activities {
		desc := a.Description
		if desc == "" {
			desc = "无描述"
		}
		fmt.Fprintf(&sb, "- %s: %s\n", a.Timestamp, desc)
	}

	req := textRequest{
		Model: c.summaryModel(),
		Input: textInput{
			Messages: []textMessage{{Role: "user", Content: sb.String()}},
		},
		Parameters: textParameters{ResultFormat: "text"},
	}
	body, err := json.Marshal(req)
	if err != nil {
		tracer.RecordError(span, err)
		return "", fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, c.client,
		c.cfg.BaseURL+"/services/aigc/text-generation/generation",
		body, c.headers())
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}

	var txtResp textResponse
	if err := json.Unmarshal(respBody, &txtResp); err != nil {
		tracer.RecordError(span, err)
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if txtResp.Output.Text == "" {
		err := fmt.Errorf("no text in response output (request %s)", txtResp.RequestID)
		tracer.RecordError(span, err)
		return "", err
	}

	tracer.SetOK(span)
	return strings.TrimSpace(txtResp.Output.Text), nil
}

func (c *DashScopeClient) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey()}
}

func (c *DashScopeClient) apiKey() string {
	if c.settings != nil {
		if key := c.settings.Current().APIKey; key != "" {
			return key
		}
	}
	return c.cfg.APIKey
}

func (c *DashScopeClient) model() string {
	if c.settings != nil {
		if m := c.settings.Current().ModelName; m != "" {
			return m
		}
	}
	return c.cfg.Model
}

func (c *DashScopeClient) summaryModel() string {
	if c.cfg.SummaryModel != "" {
		return c.cfg.SummaryModel
	}
	return "qwen-plus"
}

// --- DashScope API wire types ---

type multimodalRequest struct {
	Model string          `json:"model"`
	Input multimodalInput `json:"input"`
}

type multimodalInput struct {
	Messages []multimodalMessage `json:"messages"`
}

type multimodalMessage struct {
	Role    string              `json:"role"`
	Content []multimodalContent `json:"content"`
}

type multimodalContent struct {
	Image string `json:"image,omitempty"`
	Text  string `json:"text,omitempty"`
}

type multimodalResponse struct {
	RequestID string           `json:"request_id"`
	Output    multimodalOutput `json:"output"`
	Usage     dashscopeUsage   `json:"usage"`
}

type multimodalOutput struct {
	Choices []multimodalChoice `json:"choices"`
}

type multimodalChoice struct {
	Message multimodalMessage `json:"message"`
}

func (r multimodalResponse) answerText() string {
	var sb strings.Builder
	for _, choice := range r.Output.Choices {
		for _, part := range choice.Message.Content {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

type textRequest struct {
	Model      string         `json:"model"`
	Input      textInput      `json:"input"`
	Parameters textParameters `json:"parameters"`
}

type textInput struct {
	Messages []textMessage `json:"messages"`
}

type textMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type textParameters struct {
	ResultFormat string `json:"result_format,omitempty"`
}

type textResponse struct {
	RequestID string     `json:"request_id"`
	Output    textOutput `json:"output"`
}

type textOutput struct {
	Text string `json:"text"`
}

type dashscopeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

var _ domain.AnalysisService = (*DashScopeClient)(nil)
