package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Wire names of the backend's push events.
const (
	HandshakeEventName = "handshake"
	StatusEventName    = "processing_status"
	ProgressEventName  = "processing_progress"
	CompleteEventName  = "processing_complete"
	ErrorEventName     = "processing_error"
)

var ErrUnknownEvent = errors.New("unknown event")

type Kind int

const (
	KindStatus Kind = iota
	KindProgress
	KindSuccess
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindProgress:
		return "progress"
	case KindSuccess:
		return "success"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is a decoded push event. Only the fields meaningful for Kind are set.
// RequestID is the X-Request-ID of the submission the event belongs to; it is
// empty when the backend does not tag its events.
type Event struct {
	Kind      Kind
	Status    string
	Percent   float64
	Message   string
	Filename  string
	RequestID string
}

// Frame is the envelope every push transport carries.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type statusPayload struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Filename  string `json:"filename"`
	RequestID string `json:"request_id"`
}

type progressPayload struct {
	Percent   float64 `json:"percent"`
	Message   string  `json:"message"`
	RequestID string  `json:"request_id"`
}

// Decode maps a frame onto the closed set of job events. Handshake frames belong
// to the transport and are reported as ErrUnknownEvent like any other name.
func Decode(f Frame) (Event, error) {
	switch f.Event {
	case StatusEventName:
		var p statusPayload
		if err := unmarshal(f, &p); err != nil {
			return Event{}, err
		}
		return Event{Kind: KindStatus, Status: p.Status, RequestID: p.RequestID}, nil
	case ProgressEventName:
		var p progressPayload
		if err := unmarshal(f, &p); err != nil {
			return Event{}, err
		}
		if math.IsNaN(p.Percent) {
			return Event{}, fmt.Errorf("decoding %s: percent is NaN", f.Event)
		}
		return Event{Kind: KindProgress, Percent: p.Percent, Message: p.Message, RequestID: p.RequestID}, nil
	case CompleteEventName:
		var p statusPayload
		if err := unmarshal(f, &p); err != nil {
			return Event{}, err
		}
		return Event{Kind: KindSuccess, Status: p.Status, Filename: p.Filename, RequestID: p.RequestID}, nil
	case ErrorEventName:
		var p statusPayload
		if err := unmarshal(f, &p); err != nil {
			return Event{}, err
		}
		status := p.Status
		if status == "" {
			status = p.Message
		}
		return Event{Kind: KindError, Status: status, RequestID: p.RequestID}, nil
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
}

func unmarshal(f Frame, v any) error {
	if len(f.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", f.Event, err)
	}
	return nil
}

// NewFrame encodes a payload into a frame. Used by the stub backend.
func NewFrame(name string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: name, Data: data}, nil
}
