package gateway

import (
	"bytes"
	"encoding/json"
)

// ScriptRecord is one page of a script as returned by the OCR endpoint.
// Records are read-only: the service never writes them back.
type ScriptRecord struct {
	PageNumber int             `json:"page_number"`
	OCRJSON    json.RawMessage `json:"ocr_json"`
}

// HasOCR reports whether the record carries a usable OCR payload.
// Absent, null, and empty ("" / {} / []) payloads all count as missing.
func (r ScriptRecord) HasOCR() bool {
	trimmed := bytes.TrimSpace(r.OCRJSON)
	switch {
	case len(trimmed) == 0:
		return false
	case bytes.Equal(trimmed, []byte("null")),
		bytes.Equal(trimmed, []byte(`""`)),
		bytes.Equal(trimmed, []byte("{}")),
		bytes.Equal(trimmed, []byte("[]")):
		return false
	}
	return true
}

// CompareTextRecord is the externally owned result record, keyed by script_id
// and identified by compare_text_id. This service only reads and writes it
// through the remote API.
type CompareTextRecord struct {
	CompareTextID      int             `json:"compare_text_id"`
	ScriptID           int             `json:"script_id"`
	VLMDesc            json.RawMessage `json:"vlmdesc,omitempty"`
	Restructured       json.RawMessage `json:"restructured,omitempty"`
	FinalCorrectedText string          `json:"final_corrected_text,omitempty"`
	MCQ                json.RawMessage `json:"mcq,omitempty"`
}

// CreateComparePayload is the body for creating a new CompareText record
type CreateComparePayload struct {
	ScriptID           int                    `json:"script_id"`
	VLMDesc            map[string]interface{} `json:"vlmdesc"`
	Restructured       map[string]interface{} `json:"restructured"`
	FinalCorrectedText string                 `json:"final_corrected_text"`
	MCQ                interface{}            `json:"mcq"`
}

// updateComparePayload carries only the MCQ field: updates must leave
// vlmdesc, restructured and final_corrected_text untouched.
type updateComparePayload struct {
	CompareTextID int         `json:"compare_text_id"`
	MCQ           interface{} `json:"mcq"`
}
