// Package classifier adapts external message classifiers to the
// services.TaskClassifier interface. The scheduling core never depends on a
// concrete implementation.
package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"dayflow/internal/models"
	"dayflow/internal/services"
)

const systemPrompt = `You decide whether a chat message describes an actionable task for the
recipient. Reply with a single JSON object, no prose:
{"is_task": bool, "title": string, "description": string,
 "estimated_minutes": int, "priority": "high"|"medium"|"low",
 "confidence": float between 0 and 1}
When is_task is false the other fields may be empty.`

// OpenAIClassifier asks a chat model for the verdict. It is an adapter
// around an external capability; the pipeline treats it as a black box.
type OpenAIClassifier struct {
	client openai.Client
	model  openai.ChatModel
	log    *zap.Logger
}

func NewOpenAIClassifier(apiKey, model string, logger *zap.Logger) *OpenAIClassifier {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClassifier{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  openai.ChatModel(model),
		log:    logger.Named("classifier"),
	}
}

func (c *OpenAIClassifier) Classify(ctx context.Context, messageText string) (*services.TaskClassification, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(messageText),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("classifier request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("classifier returned no choices")
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.Trim(raw, "` \n")
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("classifier returned invalid JSON: %.80q", raw)
	}

	verdict := gjson.Parse(raw)
	cls := &services.TaskClassification{
		IsTask:            verdict.Get("is_task").Bool(),
		Title:             verdict.Get("title").String(),
		Description:       verdict.Get("description").String(),
		EstimatedDuration: time.Duration(verdict.Get("estimated_minutes").Int()) * time.Minute,
		Priority:          models.TaskPriority(verdict.Get("priority").String()),
		Confidence:        verdict.Get("confidence").Float(),
	}
	c.log.Debug("message classified",
		zap.Bool("is_task", cls.IsTask),
		zap.Float64("confidence", cls.Confidence))
	return cls, nil
}

var _ services.TaskClassifier = (*OpenAIClassifier)(nil)
