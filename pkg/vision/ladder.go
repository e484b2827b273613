package vision

import (
	"context"
	"strings"
	"time"

	"archcritic/pkg/imaging"
	providertypes "archcritic/pkg/provider/types"
)

type ladderJob struct {
	image       imaging.Image
	dataURL     string
	fingerprint string
}

// rung is one request variant of the ladder.
type rung struct {
	number int
	model  string
	prompt string
	detail string
}

func (a *Analyzer) rungs() []rung {
	return []rung{
		{number: 1, model: a.model, prompt: a.prompts.Primary, detail: providertypes.DetailLow},
		{number: 2, model: a.model, prompt: a.prompts.Fallback, detail: providertypes.DetailHigh},
		{number: 3, model: a.alternateModel, prompt: a.prompts.Fallback, detail: providertypes.DetailHigh},
	}
}

// runLadder walks the rungs in order and stops at the first non-empty answer. A zero Rung in
// the result means every rung came back empty.
func (a *Analyzer) runLadder(ctx context.Context, job ladderJob) (Result, error) {
	for _, step := range a.rungs() {
		resp, err := a.request(ctx, step, job)
		if err != nil {
			return Result{}, err
		}

		if step.number == 1 && resp.FinishReason == providertypes.FinishReasonContentFilter {
			return Result{}, newError(KindContentRejected, "model safety filter rejected the image", nil)
		}

		if text := strings.TrimSpace(resp.Text); text != "" {
			model := resp.Model
			if model == "" {
				model = step.model
			}
			return Result{Text: text, Model: model, Usage: resp.Usage, Rung: step.number}, nil
		}

		analyzerLogger().Warn("empty response from vision model", "rung", step.number, "model", step.model, "fingerprint", fingerprintPrefix(job.fingerprint))
	}

	return Result{Text: NoAssessment}, nil
}

func (a *Analyzer) request(ctx context.Context, step rung, job ladderJob) (providertypes.VisionResponse, error) {
	log := analyzerLogger().With(
		"rung", step.number,
		"model", step.model,
		"detail", step.detail,
		"fingerprint", fingerprintPrefix(job.fingerprint),
	)
	log.Info("vision request started",
		"media_type", job.image.MediaType,
		"bytes", len(job.image.Data),
		"prompt_chars", len([]rune(step.prompt)),
	)

	startedAt := time.Now()
	resp, err := a.client.Complete(ctx, providertypes.VisionRequest{
		Model:        step.model,
		SystemPrompt: a.prompts.System,
		UserPrompt:   step.prompt,
		Image:        job.image.Data,
		MediaType:    job.image.MediaType,
		DataURL:      job.dataURL,
		Detail:       step.detail,
		MaxTokens:    a.maxTokens,
	})
	duration := time.Since(startedAt)
	if err != nil {
		log.Debug("vision request failed", "duration_ms", duration.Milliseconds(), "error", err)
		return providertypes.VisionResponse{}, err
	}

	attrs := []any{"finish_reason", resp.FinishReason, "duration_ms", duration.Milliseconds(), "chars", len([]rune(resp.Text))}
	if resp.Usage != nil {
		attrs = append(attrs,
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
			"total_tokens", resp.Usage.TotalTokens,
		)
	}
	log.Info("vision request completed", attrs...)

	return resp, nil
}
