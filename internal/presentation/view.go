// Package presentation turns a recognition snapshot into what a user sees.
package presentation

import (
	"math"

	"medscan-go/internal/catalog"
	"medscan-go/internal/core/recognizer"
	"medscan-go/internal/core/vision"
)

// Message IDs, shared with the locale files.
const (
	MsgLoading        = "loading"
	MsgModelError     = "model_error"
	MsgCameraError    = "camera_error"
	MsgInferenceError = "inference_error"
	MsgNotRecognized  = "not_recognized"
	MsgRecognized     = "recognized"
)

// Localizer renders a message ID for a language.
type Localizer interface {
	Localize(lang, messageID string, data map[string]any) string
}

// View is the rendered state.
type View struct {
	recognizer.Snapshot
	Language  string            `json:"language"`
	MessageID string            `json:"message_id"`
	Message   string            `json:"message"`
	Warning   string            `json:"warning,omitempty"`
	Percent   int               `json:"percent"`
	Medicine  *catalog.Medicine `json:"medicine,omitempty"`
}

// MessageFor selects the message for a snapshot. Device and model faults take
// precedence over the recognition status.
func MessageFor(s recognizer.Snapshot) string {
	switch s.Fault {
	case vision.FaultModelLoad:
		return MsgModelError
	case vision.FaultDevice:
		return MsgCameraError
	}
	switch s.Status {
	case recognizer.StatusConfident:
		return MsgRecognized
	case recognizer.StatusUncertain:
		return MsgNotRecognized
	default:
		return MsgLoading
	}
}

// Build renders s. cat and loc may be nil.
func Build(s recognizer.Snapshot, cat *catalog.Catalog, loc Localizer, lang string) View {
	v := View{
		Snapshot:  s,
		Language:  lang,
		MessageID: MessageFor(s),
		Percent:   int(math.Round(s.Confidence * 100)),
	}

	if s.Status == recognizer.StatusConfident && cat != nil {
		if m, ok := cat.Lookup(s.Label); ok {
			v.Medicine = &m
		}
	}

	data := map[string]any{"Label": s.Label, "Percent": v.Percent}
	v.Message = localize(loc, lang, v.MessageID, data)
	if s.Fault == vision.FaultInference {
		v.Warning = localize(loc, lang, MsgInferenceError, nil)
	}
	return v
}

func localize(loc Localizer, lang, id string, data map[string]any) string {
	if loc == nil {
		return id
	}
	return loc.Localize(lang, id, data)
}
