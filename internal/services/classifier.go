package services

import (
	"context"
	"time"

	"dayflow/internal/models"
)

// TaskClassification is the external classifier's verdict on one message.
type TaskClassification struct {
	IsTask            bool
	Title             string
	Description       string
	EstimatedDuration time.Duration
	Priority          models.TaskPriority
	Confidence        float64
}

// TaskClassifier decides whether a chat message describes a task. The
// extraction itself lives outside the core; the pipeline only consumes the
// verdict.
type TaskClassifier interface {
	Classify(ctx context.Context, messageText string) (*TaskClassification, error)
}
