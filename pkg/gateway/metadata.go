package gateway

import (
	"strconv"
	"strings"

	"archcritic/pkg/bus"
	providertypes "archcritic/pkg/provider/types"
	"archcritic/pkg/vision"
)

const (
	RequestIDKey            = "request_id"
	ModelKey                = "model"
	FingerprintKey          = "fingerprint"
	CachedKey               = "cached"
	RungKey                 = "rung"
	AttemptsKey             = "attempts"
	RemainingKey            = "remaining"
	ErrorKindKey            = "error_kind"
	UsageInputTokensKey     = "usage_input_tokens"
	UsageOutputTokensKey    = "usage_output_tokens"
	UsageTotalTokensKey     = "usage_total_tokens"
	UsageReasoningTokensKey = "usage_reasoning_tokens"
	UsageCacheReadTokensKey = "usage_cache_read_tokens"
)

const fingerprintMetadataChars = 12

// ResultMetadata serializes an analysis result into outbound metadata.
func ResultMetadata(result vision.Result) map[string]string {
	metadata := map[string]string{
		CachedKey:   strconv.FormatBool(result.Cached),
		RungKey:     strconv.Itoa(result.Rung),
		AttemptsKey: strconv.Itoa(result.Attempts),
	}
	if result.Model != "" {
		metadata[ModelKey] = result.Model
	}
	if fingerprint := result.Fingerprint; fingerprint != "" {
		if len(fingerprint) > fingerprintMetadataChars {
			fingerprint = fingerprint[:fingerprintMetadataChars]
		}
		metadata[FingerprintKey] = fingerprint
	}

	if usage := result.Usage; usage != nil {
		metadata[UsageInputTokensKey] = strconv.FormatInt(usage.InputTokens, 10)
		metadata[UsageOutputTokensKey] = strconv.FormatInt(usage.OutputTokens, 10)
		metadata[UsageTotalTokensKey] = strconv.FormatInt(usage.TotalTokens, 10)
		metadata[UsageReasoningTokensKey] = strconv.FormatInt(usage.ReasoningTokens, 10)
		metadata[UsageCacheReadTokensKey] = strconv.FormatInt(usage.CacheReadTokens, 10)
	}

	return metadata
}

// UsageFromOutbound reconstructs token usage from bus metadata. It returns nil when none was recorded.
func UsageFromOutbound(outbound bus.OutboundMessage) *providertypes.TokenUsage {
	if outbound.Metadata == nil {
		return nil
	}

	usage := &providertypes.TokenUsage{
		InputTokens:     parseInt64(outbound.Metadata[UsageInputTokensKey]),
		OutputTokens:    parseInt64(outbound.Metadata[UsageOutputTokensKey]),
		TotalTokens:     parseInt64(outbound.Metadata[UsageTotalTokensKey]),
		ReasoningTokens: parseInt64(outbound.Metadata[UsageReasoningTokensKey]),
		CacheReadTokens: parseInt64(outbound.Metadata[UsageCacheReadTokensKey]),
	}
	if usage.IsZero() {
		return nil
	}

	return usage
}

func parseInt64(value string) int64 {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0
	}

	return parsed
}
