package itemtype

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/aliedrevenue/concierge/internal/domain"
)

// BedrockClassifier is the Stage B LLM adapter, backed by Claude via
// AWS Bedrock's InvokeModel contract — keeps household mail content
// inside the household's own AWS account rather than a second
// third-party API.
type BedrockClassifier struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockClassifier loads AWS config for the given region and
// constructs a Bedrock runtime client for modelID.
func NewBedrockClassifier(ctx context.Context, region, modelID string) (*BedrockClassifier, error) {
	if region == "" {
		region = "us-east-1"
	}
	if modelID == "" {
		modelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("itemtype: load AWS config: %w", err)
	}

	return &BedrockClassifier{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

type bedrockMessage struct {
	Role    string                `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// classifierJSON is the strict shape the model is asked to emit.
type classifierJSON struct {
	ItemType       string  `json:"itemType"`
	ObligationDate *string `json:"obligationDate"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

// Classify issues a single bounded InvokeModel call and parses the
// model's reply against the strict JSON contract. Any deviation
// (non-JSON, wrong field types, unknown itemType) is returned as an
// error so the caller falls back to Unparseable — this adapter never
// invents a classification the model didn't actually emit.
func (b *BedrockClassifier) Classify(ctx context.Context, in LLMInput) (LLMOutput, error) {
	req := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        400,
		System:           systemPrompt(),
		Temperature:      0,
		Messages: []bedrockMessage{
			{
				Role: "user",
				Content: []bedrockContentBlock{
					{Type: "text", Text: userPrompt(in)},
				},
			},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return LLMOutput{}, fmt.Errorf("itemtype: marshal request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return LLMOutput{}, fmt.Errorf("itemtype: bedrock invoke: %w", err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return LLMOutput{}, fmt.Errorf("itemtype: parse bedrock envelope: %w", err)
	}

	var text strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}

	return parseClassifierJSON(text.String())
}

func parseClassifierJSON(raw string) (LLMOutput, error) {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return LLMOutput{}, fmt.Errorf("itemtype: no JSON object in model reply")
	}

	var parsed classifierJSON
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return LLMOutput{}, fmt.Errorf("itemtype: unmarshal model reply: %w", err)
	}

	var itemType domain.ItemType
	switch parsed.ItemType {
	case string(domain.ItemTypeObligation):
		itemType = domain.ItemTypeObligation
	case string(domain.ItemTypeAnnouncement):
		itemType = domain.ItemTypeAnnouncement
	default:
		return LLMOutput{}, fmt.Errorf("itemtype: unknown itemType %q", parsed.ItemType)
	}

	var date *time.Time
	if parsed.ObligationDate != nil && *parsed.ObligationDate != "" {
		t, err := time.Parse("2006-01-02", *parsed.ObligationDate)
		if err != nil {
			return LLMOutput{}, fmt.Errorf("itemtype: invalid obligationDate %q: %w", *parsed.ObligationDate, err)
		}
		date = &t
	}

	return LLMOutput{
		ItemType:       itemType,
		ObligationDate: date,
		Confidence:     parsed.Confidence,
		Reasoning:      parsed.Reasoning,
	}, nil
}

func systemPrompt() string {
	return "You classify a single household email as an obligation or an " +
		"announcement for a family concierge system. Reply with ONLY a JSON " +
		"object of the shape " +
		`{"itemType":"obligation"|"announcement","obligationDate":"YYYY-MM-DD"|null,"confidence":0.0-1.0,"reasoning":"..."}` +
		". No prose outside the JSON object."
}

func userPrompt(in LLMInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pack: %s\n", in.PackName)
	fmt.Fprintf(&b, "From: %s\n", in.From)
	fmt.Fprintf(&b, "Subject: %s\n", in.Subject)
	fmt.Fprintf(&b, "Snippet: %s\n", in.Snippet)
	fmt.Fprintf(&b, "Household members: %s\n", strings.Join(in.MemberNames, ", "))
	return b.String()
}
