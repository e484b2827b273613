// Package vision turns a building photo into an architectural critique by driving a vision model
// through a fixed ladder of request variants inside a retry/backoff loop.
package vision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"archcritic/pkg/config"
	"archcritic/pkg/imaging"
	providertypes "archcritic/pkg/provider/types"
)

const (
	DefaultMinImageBytes  = 10_000
	DefaultAttemptTimeout = 60 * time.Second
	DefaultMaxAttempts    = 4
	MaxAttemptsLimit      = 10
	DefaultInitialBackoff = time.Second
	DefaultModel          = "gpt-4o-mini"
	DefaultMaxTokens      = 450
)

// Client is the remote vision endpoint.
type Client interface {
	Complete(ctx context.Context, req providertypes.VisionRequest) (providertypes.VisionResponse, error)
}

// ImageNormalizer re-encodes raw uploads. It must not fail.
type ImageNormalizer interface {
	Normalize(raw []byte) imaging.Image
}

// Result is a finished analysis. Rung is 0 for cache hits and for NoAssessment.
type Result struct {
	Text        string
	Fingerprint string
	Cached      bool
	Model       string
	Usage       *providertypes.TokenUsage
	Rung        int
	Attempts    int
}

// Assessed reports whether Text is a model critique rather than NoAssessment.
func (r Result) Assessed() bool {
	return r.Cached || r.Rung > 0
}

type Analyzer struct {
	client         Client
	normalizer     ImageNormalizer
	cache          ResultCache
	prompts        Prompts
	model          string
	alternateModel string
	maxTokens      int
	minImageBytes  int
	attemptTimeout time.Duration
	maxAttempts    int
	initialBackoff time.Duration
	newTimer       func() backoff.Timer
}

type Option func(*Analyzer)

func WithModel(model string) Option {
	return func(a *Analyzer) { a.model = strings.TrimSpace(model) }
}

// WithAlternateModel overrides the model used on the last rung.
func WithAlternateModel(model string) Option {
	return func(a *Analyzer) { a.alternateModel = strings.TrimSpace(model) }
}

func WithMaxTokens(maxTokens int) Option {
	return func(a *Analyzer) { a.maxTokens = maxTokens }
}

func WithMinImageBytes(minBytes int) Option {
	return func(a *Analyzer) { a.minImageBytes = minBytes }
}

// WithAttemptTimeout bounds one pass through the whole ladder.
func WithAttemptTimeout(timeout time.Duration) Option {
	return func(a *Analyzer) { a.attemptTimeout = timeout }
}

func WithMaxAttempts(attempts int) Option {
	return func(a *Analyzer) { a.maxAttempts = attempts }
}

func WithInitialBackoff(delay time.Duration) Option {
	return func(a *Analyzer) { a.initialBackoff = delay }
}

func WithCache(cache ResultCache) Option {
	return func(a *Analyzer) { a.cache = cache }
}

func WithNormalizer(normalizer ImageNormalizer) Option {
	return func(a *Analyzer) { a.normalizer = normalizer }
}

func WithPrompts(prompts Prompts) Option {
	return func(a *Analyzer) { a.prompts = prompts }
}

// WithTimer supplies the timer used to wait between attempts.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(a *Analyzer) { a.newTimer = newTimer }
}

// OptionsFromConfig maps the vision config section onto analyzer options.
func OptionsFromConfig(cfg config.VisionConfig) []Option {
	return []Option{
		WithModel(cfg.Model),
		WithAlternateModel(cfg.AlternateModel),
		WithMaxTokens(cfg.MaxTokens),
		WithMinImageBytes(cfg.MinImageBytes),
		WithAttemptTimeout(time.Duration(cfg.AttemptTimeoutSeconds) * time.Second),
		WithMaxAttempts(cfg.MaxAttempts),
		WithInitialBackoff(time.Duration(cfg.InitialBackoffMillis) * time.Millisecond),
		WithNormalizer(imaging.NewNormalizer(cfg.MaxImageSide, cfg.JPEGQuality)),
	}
}

// New builds an analyzer around client. One analyzer is meant to be shared by all handlers.
func New(client Client, opts ...Option) (*Analyzer, error) {
	if client == nil {
		return nil, errors.New("vision client is required")
	}

	a := &Analyzer{client: client}
	for _, opt := range opts {
		opt(a)
	}

	if a.prompts == (Prompts{}) {
		prompts, err := LoadPrompts()
		if err != nil {
			return nil, err
		}
		a.prompts = prompts
	}
	if a.normalizer == nil {
		a.normalizer = imaging.NewNormalizer(imaging.DefaultMaxSide, imaging.DefaultQuality)
	}
	if a.cache == nil {
		a.cache = NewMemoryCache()
	}
	if a.model == "" {
		a.model = DefaultModel
	}
	if a.alternateModel == "" {
		a.alternateModel = alternateModelFor(a.model)
	}
	if a.maxTokens <= 0 {
		a.maxTokens = DefaultMaxTokens
	}
	if a.minImageBytes <= 0 {
		a.minImageBytes = DefaultMinImageBytes
	}
	if a.attemptTimeout <= 0 {
		a.attemptTimeout = DefaultAttemptTimeout
	}
	if a.maxAttempts <= 0 {
		a.maxAttempts = DefaultMaxAttempts
	}
	if a.maxAttempts > MaxAttemptsLimit {
		a.maxAttempts = MaxAttemptsLimit
	}
	if a.initialBackoff <= 0 {
		a.initialBackoff = DefaultInitialBackoff
	}

	return a, nil
}

// alternateModelFor swaps between the two known model sizes.
func alternateModelFor(model string) string {
	if strings.Contains(strings.ToLower(model), "mini") {
		return "gpt-4o"
	}

	return "gpt-4o-mini"
}

// Fingerprint is the hex SHA-256 of normalized image bytes.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func fingerprintPrefix(fingerprint string) string {
	if len(fingerprint) <= 12 {
		return fingerprint
	}

	return fingerprint[:12]
}

// Analyze returns the critique text for a raw image upload.
func (a *Analyzer) Analyze(ctx context.Context, raw []byte) (string, error) {
	result, err := a.AnalyzeDetailed(ctx, raw)
	if err != nil {
		return "", err
	}

	return result.Text, nil
}

type failure int

const (
	failureNone failure = iota
	failureTimeout
	failureTransient
)

// AnalyzeDetailed runs the full pipeline: size check, normalization, cache lookup and the
// retried request ladder. NoAssessment is a successful result and is never cached.
func (a *Analyzer) AnalyzeDetailed(ctx context.Context, raw []byte) (Result, error) {
	log := analyzerLogger()
	if len(raw) < a.minImageBytes {
		return Result{}, newError(KindInsufficientInput, fmt.Sprintf("image has %d bytes, need at least %d", len(raw), a.minImageBytes), nil)
	}

	img := a.normalizer.Normalize(raw)
	fingerprint := Fingerprint(img.Data)
	log = log.With("fingerprint", fingerprintPrefix(fingerprint))

	if text, ok := a.cache.Get(ctx, fingerprint); ok {
		log.Debug("analysis served from cache")
		return Result{Text: text, Fingerprint: fingerprint, Cached: true}, nil
	}

	job := ladderJob{image: img, dataURL: imaging.DataURL(img), fingerprint: fingerprint}

	var (
		result   Result
		attempts int
		last     failure
	)
	operation := func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, a.attemptTimeout)
		defer cancel()

		ladderResult, err := a.runAttempt(attemptCtx, job)
		if err == nil {
			result = ladderResult
			return nil
		}

		var decision error
		last, decision = a.retryDecision(ctx, attemptCtx, err)
		if last != failureNone {
			log.Warn("vision call failed", "attempt", attempts, "error", err)
		}
		return decision
	}

	err := backoff.RetryNotifyWithTimer(operation, a.newBackOff(ctx), func(err error, wait time.Duration) {
		log.Debug("retrying vision call", "wait", wait.String())
	}, a.timer())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, fmt.Errorf("analyze image: %w", ctxErr)
		}
		switch last {
		case failureTimeout:
			return Result{}, newError(KindTimeout, fmt.Sprintf("no response after %d attempts", attempts), err)
		case failureTransient:
			return Result{}, newError(KindTransient, fmt.Sprintf("gave up after %d attempts", attempts), err)
		}
		if KindOf(err) == KindUnclassified {
			log.Error("vision call failed", "attempts", attempts, "error", err)
		}
		return Result{}, err
	}

	result.Fingerprint = fingerprint
	result.Attempts = attempts
	if result.Rung == 0 {
		log.Warn("no assessment produced by any rung")
		return result, nil
	}

	a.cache.Set(ctx, fingerprint, result.Text)
	return result, nil
}

// runAttempt bounds one ladder run by the attempt deadline, even when the client ignores ctx.
// An abandoned run finishes in the background and its outcome is dropped.
func (a *Analyzer) runAttempt(ctx context.Context, job ladderJob) (Result, error) {
	type outcome struct {
		result Result
		err    error
	}

	done := make(chan outcome, 1)
	go func() {
		result, err := a.runLadder(ctx, job)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return Result{}, fmt.Errorf("vision attempt abandoned: %w", ctx.Err())
	}
}

// retryDecision returns the error handed to the backoff loop: the error itself to retry, or a
// permanent wrapper to stop.
func (a *Analyzer) retryDecision(ctx context.Context, attemptCtx context.Context, err error) (failure, error) {
	if ctx.Err() != nil {
		return failureNone, backoff.Permanent(err)
	}
	if KindOf(err) == KindContentRejected {
		return failureNone, backoff.Permanent(err)
	}
	// A client-side request timeout can fire before the attempt deadline does.
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout, err
	}

	switch class := classify(err); class {
	case classTransient:
		return failureTransient, err
	case classRestricted:
		analyzerLogger().Error("vision access denied due to region or account restrictions", "error", err)
		return failureNone, backoff.Permanent(newError(KindAccessRestricted, "region or account restriction", err))
	case classPermission:
		return failureNone, backoff.Permanent(err)
	default:
		return failureNone, backoff.Permanent(newError(KindUnclassified, "", err))
	}
}

// newBackOff waits initialBackoff, then doubles it, between at most maxAttempts attempts.
func (a *Analyzer) newBackOff(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = a.initialBackoff
	expo.RandomizationFactor = 0
	expo.Multiplier = 2
	expo.MaxInterval = backoffCeiling(a.initialBackoff, a.maxAttempts)
	expo.MaxElapsedTime = 0
	expo.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(expo, uint64(a.maxAttempts-1)), ctx)
}

// backoffCeiling is the largest wait the doubling schedule can reach, saturating instead of
// overflowing so the interval never turns negative.
func backoffCeiling(initial time.Duration, attempts int) time.Duration {
	ceiling := initial
	for i := 1; i < attempts; i++ {
		if ceiling > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		ceiling *= 2
	}

	return ceiling
}

func (a *Analyzer) timer() backoff.Timer {
	if a.newTimer == nil {
		return nil
	}

	return a.newTimer()
}

func analyzerLogger() *slog.Logger {
	return slog.Default().With("component", "vision.analyzer")
}
