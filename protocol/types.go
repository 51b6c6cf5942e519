package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Request type tags.
const (
	TypePing           = "native.ping"
	TypeListPatterns   = "native.listPatterns"
	TypeListContexts   = "native.listContexts"
	TypeProcessContent = "native.processContent"
	TypeCancelProcess  = "native.cancelProcess"
)

// Response type tags.
const (
	TypePong         = "native.pong"
	TypeContent      = "native.content"
	TypeDone         = "native.done"
	TypeError        = "native.error"
	TypePatternsList = "native.patternsList"
	TypeContextsList = "native.contextsList"
)

// Request is a message sent by the parent to the host.
// Path optionally overrides the location of the external executable.
type Request struct {
	ID      uuid.UUID
	Path    *string
	Payload RequestPayload
}

// RequestPayload is one of Ping, ListPatterns, ListContexts, ProcessContent or CancelProcess.
type RequestPayload interface {
	RequestType() string
}

type Ping struct{}

type ListPatterns struct{}

type ListContexts struct{}

// ProcessContent asks the host to run the tool over Content and stream its output back.
type ProcessContent struct {
	Content      string  `json:"content"`
	Model        *string `json:"model,omitempty"`
	Pattern      *string `json:"pattern,omitempty"`
	Context      *string `json:"context,omitempty"`
	CustomPrompt *string `json:"customPrompt,omitempty"`
}

// CancelProcess asks the host to stop the stream started by the request with TargetRequestID.
type CancelProcess struct {
	TargetRequestID uuid.UUID `json:"targetRequestId"`
}

func (Ping) RequestType() string           { return TypePing }
func (ListPatterns) RequestType() string   { return TypeListPatterns }
func (ListContexts) RequestType() string   { return TypeListContexts }
func (ProcessContent) RequestType() string { return TypeProcessContent }
func (CancelProcess) RequestType() string  { return TypeCancelProcess }

func (p *ProcessContent) UnmarshalJSON(b []byte) error {
	type plain ProcessContent
	var raw struct {
		plain
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Content == nil {
		return errors.New("missing field: content")
	}
	*p = ProcessContent(raw.plain)
	p.Content = *raw.Content
	return nil
}

func (c *CancelProcess) UnmarshalJSON(b []byte) error {
	var raw struct {
		TargetRequestID *uuid.UUID `json:"targetRequestId"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.TargetRequestID == nil {
		return errors.New("missing field: targetRequestId")
	}
	c.TargetRequestID = *raw.TargetRequestID
	return nil
}

func (r Request) MarshalJSON() ([]byte, error) {
	if r.Payload == nil {
		return nil, errors.New("request has no payload")
	}
	extra := map[string]any{"id": r.ID}
	if r.Path != nil {
		extra["path"] = *r.Path
	}
	return marshalTagged(r.Payload, r.Payload.RequestType(), extra)
}

func (r *Request) UnmarshalJSON(b []byte) error {
	var hdr struct {
		ID   *uuid.UUID `json:"id"`
		Path *string    `json:"path"`
		Type *string    `json:"type"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return err
	}
	if hdr.ID == nil {
		return errors.New("missing field: id")
	}
	if hdr.Type == nil {
		return errors.New("missing field: type")
	}

	var payload RequestPayload
	switch *hdr.Type {
	case TypePing:
		payload = Ping{}
	case TypeListPatterns:
		payload = ListPatterns{}
	case TypeListContexts:
		payload = ListContexts{}
	case TypeProcessContent:
		var p ProcessContent
		if err := json.Unmarshal(b, &p); err != nil {
			return fmt.Errorf("%s: %w", *hdr.Type, err)
		}
		payload = p
	case TypeCancelProcess:
		var c CancelProcess
		if err := json.Unmarshal(b, &c); err != nil {
			return fmt.Errorf("%s: %w", *hdr.Type, err)
		}
		payload = c
	default:
		return fmt.Errorf("unknown request type %q", *hdr.Type)
	}

	*r = Request{ID: *hdr.ID, Path: hdr.Path, Payload: payload}
	return nil
}

// Response is a message sent by the host to the parent.
type Response struct {
	ID      uuid.UUID
	Payload ResponsePayload
}

// ResponsePayload is one of Pong, Content, Done, Error, PatternsList or ContextsList.
type ResponsePayload interface {
	ResponseType() string
}

// Pong answers a Ping. Valid is false whenever the tool could not be resolved or run.
type Pong struct {
	ResolvedPath *string `json:"resolvedPath"`
	Version      *string `json:"version"`
	Valid        bool    `json:"valid"`
}

// Content carries one line of tool output.
type Content struct {
	Content string `json:"content"`
}

// Done terminates a stream. ExitCode is nil when the process did not exit normally.
// Cancelled is set only when the stream was stopped by a CancelProcess request or host shutdown.
type Done struct {
	ExitCode  *int `json:"exitCode"`
	Cancelled bool `json:"cancelled,omitempty"`
}

// Error terminates a request with a failure.
type Error struct {
	Message string `json:"message"`
}

type PatternsList struct {
	Patterns []string `json:"patterns"`
}

type ContextsList struct {
	Contexts []string `json:"contexts"`
}

func (Pong) ResponseType() string         { return TypePong }
func (Content) ResponseType() string      { return TypeContent }
func (Done) ResponseType() string         { return TypeDone }
func (Error) ResponseType() string        { return TypeError }
func (PatternsList) ResponseType() string { return TypePatternsList }
func (ContextsList) ResponseType() string { return TypeContextsList }

// Final reports whether no further responses will follow r for the same id.
func (r Response) Final() bool {
	_, streaming := r.Payload.(Content)
	return !streaming
}

func (r Response) MarshalJSON() ([]byte, error) {
	if r.Payload == nil {
		return nil, errors.New("response has no payload")
	}
	return marshalTagged(r.Payload, r.Payload.ResponseType(), map[string]any{"id": r.ID})
}

func (r *Response) UnmarshalJSON(b []byte) error {
	var hdr struct {
		ID   *uuid.UUID `json:"id"`
		Type *string    `json:"type"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return err
	}
	if hdr.ID == nil {
		return errors.New("missing field: id")
	}
	if hdr.Type == nil {
		return errors.New("missing field: type")
	}

	var (
		payload ResponsePayload
		err     error
	)
	switch *hdr.Type {
	case TypePong:
		var p Pong
		err = json.Unmarshal(b, &p)
		payload = p
	case TypeContent:
		var c Content
		err = json.Unmarshal(b, &c)
		payload = c
	case TypeDone:
		var d Done
		err = json.Unmarshal(b, &d)
		payload = d
	case TypeError:
		var e Error
		err = json.Unmarshal(b, &e)
		payload = e
	case TypePatternsList:
		var p PatternsList
		err = json.Unmarshal(b, &p)
		payload = p
	case TypeContextsList:
		var c ContextsList
		err = json.Unmarshal(b, &c)
		payload = c
	default:
		return fmt.Errorf("unknown response type %q", *hdr.Type)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", *hdr.Type, err)
	}

	*r = Response{ID: *hdr.ID, Payload: payload}
	return nil
}

// marshalTagged flattens payload's fields next to the "type" tag and the envelope fields.
func marshalTagged(payload any, typ string, envelope map[string]any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("payload for %s is not an object: %w", typ, err)
	}
	for k, v := range envelope {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		fields[k] = b
	}
	fields["type"], _ = json.Marshal(typ)
	return json.Marshal(fields)
}

// Ptr returns a pointer to v, for filling optional fields.
func Ptr[T any](v T) *T {
	return &v
}
