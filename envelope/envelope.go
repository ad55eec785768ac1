package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// SourceTag identifies envelopes produced by this system, so that
	// listeners can tell them apart from all other page traffic.
	SourceTag = "__GRPCWEB_DEVTOOLS__"

	// EndOfStream is the synthetic response payload of the terminal data
	// event of a server-streaming call that completed normally.
	EndOfStream = "EOF"

	// BenignCode is the error code that denotes an expected, no-op
	// condition. Errors with this code are never reported.
	BenignCode = 0

	// UnknownMethod is the call name used when no method descriptor or
	// name parts are available.
	UnknownMethod = "unknown"
)

// CallKind is the RPC shape of an observed call.
type CallKind string

const (
	Unary           CallKind = "unary"
	ServerStreaming CallKind = "server_streaming"
)

// Valid reports whether k is one of the known call kinds.
func (k CallKind) Valid() bool {
	switch k {
	case Unary, ServerStreaming:
		return true
	default:
		return false
	}
}

func (k CallKind) String() string { return string(k) }

// Error is the reduced form of a call error: any other diagnostic data
// attached to the original error is dropped.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("code %d: %s", e.Code, e.Message)
}

// ErrorFrom builds an [Error] from its parts.
func ErrorFrom(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// IsBenign reports whether code is the benign sentinel.
func IsBenign(code int) bool { return code == BenignCode }

// Envelope is the normalized, serializable record of one call event.
type Envelope struct {
	Source     string   `json:"source"`
	MethodType CallKind `json:"methodType"`
	Method     string   `json:"method"`
	Request    any      `json:"request,omitempty"`
	Response   any      `json:"response,omitempty"`
	Error      *Error   `json:"error,omitempty"`
}

var (
	ErrWrongSource        = errors.New("envelope: source tag mismatch")
	ErrUnknownCallKind    = errors.New("envelope: unknown call kind")
	ErrResponseAndError   = errors.New("envelope: both response and error are set")
	ErrMissingMethod      = errors.New("envelope: method is empty")
	errCloneFailed        = errors.New("envelope: clone failed")
	errUnexpectedEnvelope = errors.New("envelope: unexpected JSON shape")
)

// Normalize builds an [Envelope] from the observed parts of a call event.
//
// If err is non-nil the response is dropped regardless of what was passed.
// The payloads are converted with [ToPlain], and the final envelope is
// cloned through its JSON representation, so the result never shares
// memory with the inputs. Normalize never panics: a payload that cannot be
// converted becomes nil.
func Normalize(kind CallKind, method string, request, response any, err *Error) (env Envelope) {
	env = Envelope{
		Source:     SourceTag,
		MethodType: kind,
		Method:     method,
	}
	if err != nil {
		env.Error = &Error{Code: err.Code, Message: err.Message}
	}

	defer func() {
		if r := recover(); r != nil {
			env.Request = nil
			env.Response = nil
		}
	}()

	env.Request = ToPlain(request)
	if err == nil {
		env.Response = ToPlain(response)
	}

	if cloned, cloneErr := env.clone(); cloneErr == nil {
		env = cloned
	} else {
		env.Request = nil
		env.Response = nil
	}
	return env
}

// clone deep copies e through its JSON representation.
func (e Envelope) clone() (Envelope, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", errCloneFailed, err)
	}
	var out Envelope
	if err := json.Unmarshal(b, &out); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", errCloneFailed, err)
	}
	return out, nil
}

// Encode returns the JSON encoding of e.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses an envelope from its JSON encoding. It does not validate
// the result, see [Envelope.Validate].
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", errUnexpectedEnvelope, err)
	}
	return e, nil
}

// FromPlain converts a decoded JSON object (as produced by a structured
// clone of an envelope) back into an [Envelope].
func FromPlain(v any) (Envelope, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", errUnexpectedEnvelope, err)
	}
	return Decode(b)
}

// Validate checks the envelope invariants.
func (e Envelope) Validate() error {
	if e.Source != SourceTag {
		return ErrWrongSource
	}
	if !e.MethodType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCallKind, e.MethodType)
	}
	if e.Method == "" {
		return ErrMissingMethod
	}
	if e.Error != nil && e.Response != nil {
		return ErrResponseAndError
	}
	return nil
}

// IsEndOfStream reports whether e is the synthetic terminal event of a
// server-streaming call.
func (e Envelope) IsEndOfStream() bool {
	s, ok := e.Response.(string)
	return ok && s == EndOfStream && e.Error == nil
}
