// Package extractor wraps the external requirement-extraction model. The
// workflow core only depends on the Client interface; the Anthropic-backed
// implementation lives behind it.
package extractor

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client defines the extraction operations used by the run manager.
type Client interface {
	Extract(ctx context.Context, req Request) (*Result, error)
}

// Request carries one document to extract candidates from, together with the
// generation parameters that will be recorded on the run for reproducibility.
type Request struct {
	DocumentText  string
	PromptVersion string
	SchemaVersion string
	Model         string
	Temperature   float64
	TopP          float64
	MaxTokens     int64
}

// CandidateRecord is one structured candidate as returned by the model.
type CandidateRecord struct {
	ReqKey            string   `json:"req_key"`
	Text              string   `json:"text"`
	Category          string   `json:"category"`
	Confidence        float64  `json:"confidence"`
	SourceParagraphID string   `json:"source_paragraph_id"`
	SourceSection     string   `json:"source_section"`
	SourceQuote       string   `json:"source_quote"`
	IsAmbiguous       bool     `json:"is_ambiguous"`
	DuplicateRefs     []string `json:"duplicate_refs,omitempty"`
}

// Result is the structured outcome of one extraction call.
type Result struct {
	Candidates   []CandidateRecord
	ModelName    string
	ModelVersion string
	InputTokens  int64
	OutputTokens int64
}

const systemText = "You are a requirements analyst. Extract every discrete requirement " +
	"from the RFP document as JSON matching the requested schema. Classify each as " +
	"FUNCTIONAL, NON_FUNCTIONAL, or CONSTRAINT, quote the exact source sentence, and " +
	"flag ambiguous or duplicate statements. Return only the JSON array."

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client  sdk.Client
	limiter *rate.Limiter
	prompts *PromptPack
}

// NewClient creates an extraction client backed by the SDK. rps bounds the
// request rate against the provider; zero disables limiting.
func NewClient(apiKey string, rps float64, prompts *PromptPack) Client {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	if prompts == nil {
		prompts = DefaultPromptPack()
	}
	return &sdkClient{
		client:  sdk.NewClient(option.WithAPIKey(apiKey)),
		limiter: limiter,
		prompts: prompts,
	}
}

func (c *sdkClient) Extract(ctx context.Context, req Request) (*Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "extractor: rate limit wait")
		}
	}

	prompt, err := c.prompts.Render(req.PromptVersion, req.SchemaVersion, req.DocumentText)
	if err != nil {
		return nil, err
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(req.Model),
		MaxTokens:   req.MaxTokens,
		Temperature: sdk.Float(req.Temperature),
		TopP:        sdk.Float(req.TopP),
		System: []sdk.TextBlockParam{
			{Text: systemText},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "extractor: create message")
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	candidates, err := ParseCandidates(text.String())
	if err != nil {
		return nil, err
	}

	zap.L().Info("extractor: extraction complete",
		zap.String("model", string(msg.Model)),
		zap.Int("candidates", len(candidates)),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
	)

	return &Result{
		Candidates:   candidates,
		ModelName:    req.Model,
		ModelVersion: string(msg.Model),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}

// ParseCandidates decodes the model's JSON array, tolerating surrounding
// prose and markdown fences.
func ParseCandidates(raw string) ([]CandidateRecord, error) {
	trimmed := strings.TrimSpace(raw)
	if i := strings.Index(trimmed, "["); i >= 0 {
		if j := strings.LastIndex(trimmed, "]"); j > i {
			trimmed = trimmed[i : j+1]
		}
	}

	var out []CandidateRecord
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return nil, eris.Wrap(err, "extractor: parse candidates")
	}
	for i := range out {
		if out[i].Confidence < 0 {
			out[i].Confidence = 0
		}
		if out[i].Confidence > 1 {
			out[i].Confidence = 1
		}
	}
	return out, nil
}
