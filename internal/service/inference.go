package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/observer/internal/db"
	"github.com/raphaelgruber/observer/internal/llm"
	"github.com/raphaelgruber/observer/internal/models"
)

// SendBatchSize is how many recent captures go out with one prompt.
const SendBatchSize = 5

// Inferer sends a prompt with images to the upstream model.
type Inferer interface {
	Infer(ctx context.Context, prompt string, images []llm.ImageRef) (llm.Completion, error)
}

// SendResult is the outcome of a successful Send.
type SendResult struct {
	ResponseID string
	Completion llm.Completion
}

// InferenceService runs the capture-and-send workflow.
type InferenceService struct {
	store db.Store
	model Inferer
}

// NewInferenceService creates a new inference service.
func NewInferenceService(store db.Store, model Inferer) *InferenceService {
	return &InferenceService{store: store, model: model}
}

// Send forwards the most recent captures with the prompt, stores the reply
// and archives the captures that were sent.
//
// Nothing is written when the upstream call fails. Once the response is
// stored the request succeeds even if archiving some capture fails; such
// captures stay recent and are logged.
func (s *InferenceService) Send(ctx context.Context, prompt string) (*SendResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, validationError("missing message")
	}

	slog.Info("processing send request", "prompt_len", len(prompt))

	captures, err := s.store.ListRecentCaptures(ctx, SendBatchSize)
	if err != nil {
		return nil, err
	}
	if len(captures) == 0 {
		return nil, ErrNoCaptures
	}

	images := make([]llm.ImageRef, 0, len(captures))
	ids := make([]string, 0, len(captures))
	for _, c := range captures {
		data, err := c.Bytes()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", db.ErrStorage, err)
		}
		images = append(images, llm.ImageRef{MIMEType: c.MimeType(), Data: data})
		ids = append(ids, c.ID)
	}

	completion, err := s.model.Infer(ctx, prompt, images)
	if err != nil {
		return nil, err
	}

	responseID, err := s.store.SaveResponse(ctx, models.ResponseInput{
		Message:      prompt,
		ResponseData: completion,
		CaptureIDs:   ids,
	})
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		ok, err := s.store.ArchiveCapture(ctx, id)
		switch {
		case err != nil:
			slog.Warn("failed to archive capture after send", "capture_id", id, "response_id", responseID, "error", err)
		case !ok:
			slog.Warn("capture was not archived after send", "capture_id", id, "response_id", responseID)
		default:
			slog.Info("archived capture after send", "capture_id", id)
		}
	}

	slog.Info("saved response", "response_id", responseID, "captures", len(ids))
	return &SendResult{ResponseID: responseID, Completion: completion}, nil
}
