package composer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// bedrockInvoker is the part of the Bedrock runtime client the model uses
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockModel calls an Anthropic model hosted on AWS Bedrock
type BedrockModel struct {
	client      bedrockInvoker
	modelID     string
	maxTokens   int
	temperature float64
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type bedrockMessage struct {
	Role    string                `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature,omitempty"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// NewBedrockModel loads the default AWS credential chain for region
func NewBedrockModel(ctx context.Context, region, modelID string, maxTokens int, temperature float64) (*BedrockModel, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newBedrockModel(bedrockruntime.NewFromConfig(cfg), modelID, maxTokens, temperature), nil
}

func newBedrockModel(client bedrockInvoker, modelID string, maxTokens int, temperature float64) *BedrockModel {
	if maxTokens <= 0 {
		maxTokens = 500
	}
	return &BedrockModel{
		client:      client,
		modelID:     modelID,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Complete invokes the model with the Anthropic messages format
func (b *BedrockModel) Complete(ctx context.Context, system, user string) (string, error) {
	requestBody, err := json.Marshal(bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        b.maxTokens,
		System:           system,
		Messages: []bedrockMessage{{
			Role:    "user",
			Content: []bedrockContentBlock{{Type: "text", Text: user}},
		}},
		Temperature: b.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return "", fmt.Errorf("bedrock API error: %w", err)
	}

	var response bedrockResponse
	if err := json.Unmarshal(output.Body, &response); err != nil {
		return "", fmt.Errorf("failed to parse bedrock response: %w", err)
	}

	var text strings.Builder
	for _, c := range response.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	return strings.TrimSpace(text.String()), nil
}
