/**
 * Pipeline outcome views
 *
 * The external generation pipeline's output shape is not contractually fixed
 * across versions. Instead of probing an opaque value ad hoc, every known
 * output variant gets an adapter implementing OutcomeView, and the normalizer
 * consumes only the interface.
 */

package pipeline

import "encoding/json"

// UsageMetadata is the token accounting optionally reported by the pipeline.
// Values are trusted as-is; total = prompt + completion is not enforced.
type UsageMetadata struct {
	TotalTokens      int `json:"total_tokens"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// OutcomeView exposes the optional capabilities of a pipeline outcome.
// Every accessor may report absence; adapters must tolerate outputs that
// expose none of them.
type OutcomeView interface {
	// RawText returns the pipeline's raw text view, if present
	RawText() (string, bool)

	// AsMap returns the pipeline's dictionary view, if present
	AsMap() (map[string]interface{}, bool)

	// Usage returns usage metadata from the outcome's direct usage fields
	// (token_usage, then usage_metrics), if present
	Usage() (*UsageMetadata, bool)

	// SubtaskUsages returns per-subtask usage records, one per task that
	// reported any
	SubtaskUsages() []UsageMetadata
}

// JSONOutcome adapts a JSON-object pipeline response
type JSONOutcome struct {
	data map[string]interface{}
}

// NewJSONOutcome wraps a decoded JSON object as an outcome view
func NewJSONOutcome(data map[string]interface{}) *JSONOutcome {
	return &JSONOutcome{data: data}
}

func (o *JSONOutcome) RawText() (string, bool) {
	if o == nil || o.data == nil {
		return "", false
	}
	if raw, ok := o.data["raw"].(string); ok && raw != "" {
		return raw, true
	}
	return "", false
}

func (o *JSONOutcome) AsMap() (map[string]interface{}, bool) {
	if o == nil || o.data == nil {
		return nil, false
	}
	return o.data, true
}

func (o *JSONOutcome) Usage() (*UsageMetadata, bool) {
	if o == nil || o.data == nil {
		return nil, false
	}
	for _, key := range []string{"token_usage", "usage_metrics"} {
		if usage := ParseUsageValue(o.data[key]); usage != nil {
			return usage, true
		}
	}
	return nil, false
}

func (o *JSONOutcome) SubtaskUsages() []UsageMetadata {
	if o == nil || o.data == nil {
		return nil
	}
	tasks, ok := o.data["tasks_output"].([]interface{})
	if !ok {
		return nil
	}

	var usages []UsageMetadata
	for _, task := range tasks {
		taskMap, ok := task.(map[string]interface{})
		if !ok {
			continue
		}
		if usage := ParseUsageValue(taskMap["token_usage"]); usage != nil {
			usages = append(usages, *usage)
		}
	}
	return usages
}

// String renders the outcome for last-resort serialization
func (o *JSONOutcome) String() string {
	if o == nil || o.data == nil {
		return ""
	}
	rendered, err := json.Marshal(o.data)
	if err != nil {
		return ""
	}
	return string(rendered)
}

// TextOutcome adapts a plain-text pipeline response
type TextOutcome string

func (o TextOutcome) RawText() (string, bool) {
	return string(o), o != ""
}

func (o TextOutcome) AsMap() (map[string]interface{}, bool) {
	return nil, false
}

func (o TextOutcome) Usage() (*UsageMetadata, bool) {
	return nil, false
}

func (o TextOutcome) SubtaskUsages() []UsageMetadata {
	return nil
}

func (o TextOutcome) String() string {
	return string(o)
}

// ParseUsageValue converts a usage-shaped value into UsageMetadata. Accepts
// either a map carrying the token fields or a bare numeric total. Returns nil
// when the value has neither shape or carries no counts.
func ParseUsageValue(value interface{}) *UsageMetadata {
	switch v := value.(type) {
	case map[string]interface{}:
		usage := &UsageMetadata{
			TotalTokens:      intFromMap(v, "total_tokens"),
			PromptTokens:     intFromMap(v, "prompt_tokens"),
			CompletionTokens: intFromMap(v, "completion_tokens"),
		}
		if usage.TotalTokens == 0 && usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
			return nil
		}
		return usage
	case float64:
		if v <= 0 {
			return nil
		}
		return &UsageMetadata{TotalTokens: int(v)}
	case int:
		if v <= 0 {
			return nil
		}
		return &UsageMetadata{TotalTokens: v}
	default:
		return nil
	}
}

func intFromMap(m map[string]interface{}, key string) int {
	if val, ok := m[key]; ok {
		if num, ok := val.(float64); ok {
			return int(num)
		}
		if num, ok := val.(int); ok {
			return num
		}
	}
	return 0
}
