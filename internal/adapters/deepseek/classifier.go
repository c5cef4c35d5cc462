// Package deepseek implements ports.SignalClassifier against the DeepSeek
// chat completions API, which is OpenAI-compatible.
package deepseek

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tradewatch/internal/domain"
	"tradewatch/internal/ports"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultBaseURL = "https://api.deepseek.com/v1"
	defaultModel   = "deepseek-chat"
	defaultTimeout = 30 * time.Second
)

// systemPrompt fixes the JSON contract. The model must answer with a single
// JSON object and nothing else; labels stay in their original form.
const systemPrompt = `你是一个交易信号提取器。分析用户消息并只输出一个JSON对象，不要输出任何其他内容。

如果消息是开仓信号（带单），输出:
{"type":"entry","symbol":"BTC-USDT-SWAP","direction":"long或short","entry_price":0,"take_profit":0,"stop_loss":0,"confidence":0.0}
未给出的价格字段填0。confidence为0到1之间的小数。

如果消息是对已有仓位的跟进（止盈、止损、部分平仓、浮盈浮亏播报等），输出:
{"type":"update","status":"原文中的状态词，如 已止盈/已止损/部分止盈/带单主动止盈/浮盈","pnl_points":0}
消息未给出盈亏点数时省略pnl_points字段。

如果消息与交易无关，输出:
{"type":"none"}`

// Classifier calls an OpenAI-compatible endpoint to turn free text into a
// structured signal. Any failure mode yields the empty signal.
type Classifier struct {
	client  *openai.Client
	model   string
	logger  ports.Logger
	timeout time.Duration
}

var _ ports.SignalClassifier = (*Classifier)(nil)

// Config holds configuration for the DeepSeek classifier adapter.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  ports.Logger
	Timeout time.Duration
}

// New creates the classifier. An empty API key is not an error; the
// classifier reports itself unavailable and every Classify call returns the
// empty signal, so the rest of the pipeline keeps running.
func New(cfg Config) (*Classifier, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for DeepSeek classifier")
	}

	c := &Classifier{
		model:   cfg.Model,
		logger:  cfg.Logger,
		timeout: cfg.Timeout,
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}

	if cfg.APIKey == "" {
		cfg.Logger.Warn(context.Background(), "DeepSeek API key is empty. Classifier disabled; messages will not produce signals.")
		return c, nil
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	if clientCfg.BaseURL == "" {
		clientCfg.BaseURL = defaultBaseURL
	}
	c.client = openai.NewClientWithConfig(clientCfg)
	cfg.Logger.Info(context.Background(), "DeepSeek classifier configured", map[string]interface{}{"baseURL": clientCfg.BaseURL, "model": c.model})
	return c, nil
}

// Available reports whether the classifier backend is configured.
func (c *Classifier) Available() bool {
	return c != nil && c.client != nil
}

// Classify extracts a trade signal from free text. The returned error is
// informational; on any failure the signal is empty and callers proceed as
// if the message carried nothing actionable.
func (c *Classifier) Classify(ctx context.Context, text string) (domain.Signal, error) {
	op := "Classify"
	if !c.Available() {
		return domain.Signal{}, ports.ErrClassifierUnavailable
	}
	if strings.TrimSpace(text) == "" {
		return domain.Signal{}, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		err = fmt.Errorf("%s request failed: %w: %w", op, ports.ErrClassifierUnavailable, err)
		c.logger.Error(ctx, err, "Classifier request failed")
		return domain.Signal{}, err
	}
	if len(resp.Choices) == 0 {
		err = fmt.Errorf("%s returned no choices: %w", op, ports.ErrClassifierUnavailable)
		c.logger.Error(ctx, err, "Classifier response empty")
		return domain.Signal{}, err
	}

	signal, err := parseSignal(resp.Choices[0].Message.Content)
	if err != nil {
		c.logger.Warn(ctx, "Classifier output unparseable, treating as no signal", map[string]interface{}{
			"error":  err.Error(),
			"output": truncate(resp.Choices[0].Message.Content, 300),
		})
		return domain.Signal{}, nil
	}
	return signal, nil
}

// wireSignal is the JSON shape the prompt asks the model for.
type wireSignal struct {
	Type       string   `json:"type"`
	Symbol     string   `json:"symbol"`
	Direction  string   `json:"direction"`
	EntryPrice float64  `json:"entry_price"`
	TakeProfit float64  `json:"take_profit"`
	StopLoss   float64  `json:"stop_loss"`
	Confidence *float64 `json:"confidence"`
	Status     string   `json:"status"`
	PnlPoints  *float64 `json:"pnl_points"`
}

// parseSignal extracts the JSON object from raw model output and maps it to
// a domain signal. Unrecognized shapes map to the empty signal without error
// when they are well-formed JSON of an unknown type.
func parseSignal(raw string) (domain.Signal, error) {
	fragment, ok := extractJSON(raw)
	if !ok {
		return domain.Signal{}, fmt.Errorf("no JSON object in classifier output")
	}

	var wire wireSignal
	if err := json.Unmarshal([]byte(fragment), &wire); err != nil {
		return domain.Signal{}, fmt.Errorf("failed to decode classifier output: %w", err)
	}

	switch wire.Type {
	case "entry":
		return domain.Signal{
			Type: domain.SignalEntry,
			Entry: &domain.EntrySignal{
				Symbol:     strings.TrimSpace(wire.Symbol),
				Side:       domain.Side(strings.ToLower(strings.TrimSpace(wire.Direction))),
				EntryPrice: wire.EntryPrice,
				TakeProfit: wire.TakeProfit,
				StopLoss:   wire.StopLoss,
				Confidence: wire.Confidence,
			},
		}, nil
	case "update":
		label := strings.TrimSpace(wire.Status)
		if label == "" {
			return domain.Signal{}, fmt.Errorf("update signal missing status label")
		}
		return domain.Signal{
			Type: domain.SignalUpdate,
			Update: &domain.UpdateSignal{
				StatusLabel: label,
				PnlPoints:   wire.PnlPoints,
			},
		}, nil
	default:
		return domain.Signal{}, nil
	}
}

// extractJSON strips markdown fences and returns the outermost {...}
// fragment. Models occasionally wrap the object in prose or a code fence
// despite the prompt.
func extractJSON(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
