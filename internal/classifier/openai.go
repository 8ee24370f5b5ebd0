package classifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/edwardrichtofen115/subscout/internal/config"
)

const promptFormat = `You are a subscription detection system. Analyze the following email and determine whether it announces a subscription or free trial the recipient has started.
Respond with a JSON object containing:
- is_subscription: boolean (true if the email signals a new subscription or trial)
- confidence: number between 0 and 1 (how confident you are in your assessment)
- service_name: string (name of the service, empty if unknown)
- kind: string ("trial" or "subscription")
- duration_days: integer (declared trial/billing period length in days, 0 if not stated)
- end_date: string (explicit end or renewal date in YYYY-MM-DD format, empty if not stated)
- reasoning: string (brief explanation of your assessment)

Email:
From: %s
Date: %s
Subject: %s
Body:
%s

Respond only with the JSON object and nothing else.`

// OpenAIClassifier implements Classifier using the OpenAI chat API.
type OpenAIClassifier struct {
	client       *openai.Client
	model        string
	maxTokens    int
	temperature  float32
	maxBodyBytes int
}

func NewOpenAIClassifier(cfg *config.OpenAIConfig) *OpenAIClassifier {
	return &OpenAIClassifier{
		client:       openai.NewClient(cfg.APIKey),
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
}

// NewOpenAIClassifierWithClient is used by tests to point the classifier
// at a stub server.
func NewOpenAIClassifierWithClient(client *openai.Client, cfg *config.OpenAIConfig) *OpenAIClassifier {
	c := NewOpenAIClassifier(cfg)
	c.client = client
	return c
}

// Classify submits the message for classification. On any failure it
// returns a negative classification carrying the failure as reasoning,
// together with the underlying error for aggregate counting.
func (c *OpenAIClassifier) Classify(ctx context.Context, input Input) (Classification, error) {
	prompt := fmt.Sprintf(promptFormat,
		input.From,
		input.Received.Format("2006-01-02"),
		input.Subject,
		truncateBody(input.Body, c.maxBodyBytes),
	)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a subscription detection system. Respond only with JSON.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		logrus.Warnf("Classification call failed: %v", err)
		return Negative(fmt.Sprintf("classifier call failed: %v", err)), fmt.Errorf("classifier call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("empty response from classifier")
		return Negative(err.Error()), err
	}

	classification, err := parseClassification(resp.Choices[0].Message.Content)
	if err != nil {
		logrus.Warnf("Failed to parse classification response: %v", err)
		return Negative(fmt.Sprintf("unparseable classifier response: %v", err)), err
	}
	return classification, nil
}

// parseClassification decodes the model's JSON reply, tolerating prose
// around the JSON object.
func parseClassification(text string) (Classification, error) {
	var classification Classification
	if err := json.Unmarshal([]byte(text), &classification); err == nil {
		return clamp(classification), nil
	}

	jsonStr, ok := extractJSON(text)
	if !ok {
		return Classification{}, fmt.Errorf("no JSON object in classifier response")
	}
	if err := json.Unmarshal([]byte(jsonStr), &classification); err != nil {
		return Classification{}, fmt.Errorf("failed to parse classifier response as JSON: %w", err)
	}
	return clamp(classification), nil
}

// extractJSON pulls the substring between the first '{' and the last '}'.
func extractJSON(text string) (string, bool) {
	start := -1
	for i := 0; i < len(text); i++ {
		if text[i] == '{' {
			start = i
			break
		}
	}

	end := -1
	for i := len(text) - 1; i >= 0; i-- {
		if text[i] == '}' {
			end = i + 1
			break
		}
	}

	if start < 0 || end <= start {
		return "", false
	}
	return text[start:end], true
}

func clamp(c Classification) Classification {
	if c.Confidence < 0 {
		c.Confidence = 0
	}
	if c.Confidence > 1 {
		c.Confidence = 1
	}
	return c
}

// truncateBody bounds the body prefix submitted to the model.
func truncateBody(body string, maxBytes int) string {
	if maxBytes <= 0 || len(body) <= maxBytes {
		return body
	}
	return body[:maxBytes] + "\n[... content truncated ...]"
}
