/**
 * Result Normalizer
 *
 * Converts an opaque pipeline outcome into a serializable value and extracts
 * usage accounting via a prioritized sequence of probes. Both operations are
 * defensive by contract: they never panic, returning an absent/fallback value
 * instead. The probe order is fixed; see ExtractUsage.
 */

package normalizer

import (
	"fmt"
	"strings"

	"github.com/gradeworks/mcq-service/internal/logging"
	"github.com/gradeworks/mcq-service/internal/pipeline"
)

// Normalizer turns pipeline outcomes into serializable results and usage
// metadata
type Normalizer struct {
	logger *logging.Logger
}

// New creates a normalizer
func New() *Normalizer {
	return &Normalizer{logger: logging.NewLogger("Normalizer")}
}

// ExtractUsage probes the outcome for token accounting, in priority order:
// the adapter's direct usage fields (token_usage, then usage_metrics), usage
// keys embedded in the dictionary view, per-subtask usage summed across the
// task collection, a container-held usage field, and finally the generic
// _usage/usage fallbacks. Returns nil when nothing matches; never panics.
func (n *Normalizer) ExtractUsage(view pipeline.OutcomeView) (usage *pipeline.UsageMetadata) {
	if view == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			n.logger.Warn("Could not extract token usage", "error", r)
			usage = nil
		}
	}()

	if u, ok := view.Usage(); ok {
		n.logger.Info("Found direct usage metadata", "totalTokens", u.TotalTokens)
		return u
	}

	dict, hasDict := view.AsMap()
	if hasDict {
		for _, key := range []string{"token_usage", "usage_metrics"} {
			if u := pipeline.ParseUsageValue(dict[key]); u != nil {
				n.logger.Info("Found usage in dictionary view", "key", key, "totalTokens", u.TotalTokens)
				return u
			}
		}
	}

	if subtasks := view.SubtaskUsages(); len(subtasks) > 0 {
		var sum pipeline.UsageMetadata
		for _, task := range subtasks {
			sum.TotalTokens += task.TotalTokens
			sum.PromptTokens += task.PromptTokens
			sum.CompletionTokens += task.CompletionTokens
		}
		if sum.TotalTokens > 0 {
			n.logger.Info("Calculated token usage from subtasks",
				"tasks", len(subtasks), "totalTokens", sum.TotalTokens)
			return &sum
		}
	}

	if hasDict {
		if container, ok := dict["crew"].(map[string]interface{}); ok {
			if u := pipeline.ParseUsageValue(container["usage_metrics"]); u != nil {
				n.logger.Info("Found usage in crew container", "totalTokens", u.TotalTokens)
				return u
			}
		}
		for _, key := range []string{"_usage", "usage"} {
			if u := pipeline.ParseUsageValue(dict[key]); u != nil {
				n.logger.Info("Found usage via fallback key", "key", key, "totalTokens", u.TotalTokens)
				return u
			}
		}
	}

	n.logger.Warn("No token usage information found in pipeline output")
	return nil
}

// Serialize converts the outcome to a serializable value, in priority order:
// a non-empty raw text view, the dictionary view's result field when it is a
// non-empty string, the dictionary view itself, and finally a best-effort
// textual rendering. Never panics, never returns an empty string.
func (n *Normalizer) Serialize(view pipeline.OutcomeView) (result interface{}) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Warn("Could not serialize pipeline output", "error", r)
			result = renderFallback(view)
		}
	}()

	if view == nil {
		return renderFallback(view)
	}

	if raw, ok := view.RawText(); ok && raw != "" {
		return raw
	}

	if dict, ok := view.AsMap(); ok {
		if res, ok := dict["result"].(string); ok && res != "" {
			return res
		}
		if len(dict) > 0 {
			return dict
		}
	}

	return renderFallback(view)
}

// renderFallback produces a guaranteed non-empty textual rendering
func renderFallback(view pipeline.OutcomeView) string {
	rendered := fmt.Sprintf("%v", view)
	if strings.TrimSpace(rendered) == "" || rendered == "<nil>" {
		return "pipeline output unavailable"
	}
	return rendered
}
