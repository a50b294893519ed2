package models

import "time"

// Source identifies which recognition engine produced the returned text.
type Source string

const (
	SourcePrimary   Source = "primary"
	SourceSecondary Source = "secondary"
	SourceCache     Source = "cache"
)

// ExtractionOutcome is the result of one primary recognition call on one worker.
type ExtractionOutcome struct {
	Success  bool          `json:"success"`
	Text     string        `json:"text"`
	Error    string        `json:"error,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
	Endpoint string        `json:"endpoint"`
}

// ProcessedText holds recognized text after normalisation and field detection.
// Empty fields mean nothing was detected.
type ProcessedText struct {
	NormalizedText   string `json:"normalized_text"`
	DetectedCUIT     string `json:"detected_cuit,omitempty"`
	RemitoNumber     string `json:"numero_remito,omitempty"`
	CustomerOrVendor string `json:"customer_or_vendor,omitempty"`
}

// OCRResponse is the JSON body returned by POST /api/ocr.
type OCRResponse struct {
	RequestID      string        `json:"request_id"`
	CorrelationID  string        `json:"correlation_id,omitempty"`
	Text           string        `json:"text"`
	Source         Source        `json:"source"`
	Processed      ProcessedText `json:"processed"`
	EndpointsTried []string      `json:"endpoints_tried"`
	Attempts       int           `json:"attempts"`
	ElapsedMs      int64         `json:"elapsed_ms"`
}
