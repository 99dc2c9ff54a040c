// Package ipc provides communication between the keycored daemon and its
// clients (keyctl, scripts).
//
// The protocol is designed for:
//   - Request/response pattern for commands
//   - Event streaming of controller decisions
//   - Protocol versioning for compatibility
//
// Every message is a 16-byte header followed by a JSON payload.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"keycore/internal/controller"
	"keycore/internal/layer"
	"keycore/internal/rgb"
)

// Protocol version for compatibility checking
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x4B434F52 // "KCOR"
)

// MaxPayload bounds the payload a peer may announce.
const MaxPayload = 1 << 20

// MessageType identifies the type of IPC message
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005

	// Status messages (0x01xx)
	MsgStatusRequest      MessageType = 0x0100
	MsgStatusResponse     MessageType = 0x0101
	MsgIndicatorsRequest  MessageType = 0x0102
	MsgIndicatorsResponse MessageType = 0x0103
	MsgMetricsRequest     MessageType = 0x0104
	MsgMetricsResponse    MessageType = 0x0105

	// Controller commands (0x02xx)
	MsgReset     MessageType = 0x0200
	MsgResetResp MessageType = 0x0201

	// Configuration (0x04xx)
	MsgReloadConfig     MessageType = 0x0404
	MsgReloadConfigResp MessageType = 0x0405

	// Event streaming (0x05xx)
	MsgSubscribe       MessageType = 0x0500
	MsgSubscribeResp   MessageType = 0x0501
	MsgUnsubscribe     MessageType = 0x0502
	MsgUnsubscribeResp MessageType = 0x0503
	MsgEvent           MessageType = 0x0504
)

// EventType identifies the type of streamed event
type EventType uint16

const (
	EventTap            EventType = 0x0001
	EventHold           EventType = 0x0002
	EventDance          EventType = 0x0003
	EventLayerChange    EventType = 0x0004
	EventModeChange     EventType = 0x0005
	EventRGBChange      EventType = 0x0006
	EventConfigReloaded EventType = 0x0007
	EventDaemonShutdown EventType = 0x0008
)

// AllEvents lists every event type, the default subscription.
var AllEvents = []EventType{
	EventTap, EventHold, EventDance, EventLayerChange,
	EventModeChange, EventRGBChange, EventConfigReloaded, EventDaemonShutdown,
}

func (t EventType) String() string {
	switch t {
	case EventTap:
		return "tap"
	case EventHold:
		return "hold"
	case EventDance:
		return "dance"
	case EventLayerChange:
		return "layer"
	case EventModeChange:
		return "mode"
	case EventRGBChange:
		return "rgb"
	case EventConfigReloaded:
		return "config"
	case EventDaemonShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("event(%d)", uint16(t))
}

// ParseEventType accepts the names String returns.
func ParseEventType(s string) (EventType, error) {
	for _, t := range AllEvents {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("ipc: unknown event type %q", s)
}

// Header is the fixed-size message header (16 bytes)
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes
const HeaderSize = 16

// FlagJSON marks a JSON payload. It is the only encoding.
const FlagJSON uint8 = 0x04

// Message wraps a header and payload
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

func (h *Header) encode(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
}

// ReadHeader reads a header from a reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}
	return h, nil
}

// Write writes the header and payload in a single write, so concurrent
// writers serialised by a mutex never interleave frames.
func (m *Message) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize+len(m.Payload))
	m.Header.Length = uint32(len(m.Payload))
	m.Header.encode(buf)
	copy(buf[HeaderSize:], m.Payload)
	_, err := w.Write(buf)
	return err
}

// ReadMessage reads a complete message from a reader
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Request/Response payloads

// HandshakeRequest is sent by the client to initiate connection
type HandshakeRequest struct {
	ClientVersion   string `json:"client_version"`
	ClientName      string `json:"client_name"`
	ProtocolVersion uint8  `json:"protocol_version"`
}

// HandshakeResponse is sent by the server to acknowledge connection
type HandshakeResponse struct {
	ServerVersion   string `json:"server_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
	ClientID        string `json:"client_id"`
}

// ErrorResponse is sent when an operation fails
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrUnknown        = 1
	ErrInvalidRequest = 2
	ErrNotFound       = 3
	ErrInternalError  = 5
	ErrNotRunning     = 7
	ErrUnsupported    = 8
)

// StatusResponse contains daemon and controller status
type StatusResponse struct {
	Version   string            `json:"version"`
	StartedAt time.Time         `json:"started_at"`
	Uptime    time.Duration     `json:"uptime"`
	Clients   int               `json:"clients"`
	Status    controller.Status `json:"status"`

	// Names for display; derived from Status.
	Layers  []string `json:"layer_names"`
	Highest string   `json:"highest_name"`
	RGBMode string   `json:"rgb_mode_name"`

	TraceSession string `json:"trace_session,omitempty"`
}

// NewStatusResponse fills the display names from st.
func NewStatusResponse(st controller.Status) *StatusResponse {
	names := make([]string, 0, layer.Count)
	for _, id := range st.Layers.IDs() {
		names = append(names, id.Name())
	}
	return &StatusResponse{
		Status:  st,
		Layers:  names,
		Highest: st.Highest.Name(),
		RGBMode: st.RGBMode.String(),
	}
}

// IndicatorsResponse carries the current indicator decision.
type IndicatorsResponse struct {
	Decision rgb.RenderDecision `json:"decision"`
}

// MetricsResponse carries a metrics snapshot.
type MetricsResponse struct {
	Metrics map[string]any `json:"metrics"`
}

// ResetResponse acknowledges a controller reset.
type ResetResponse struct {
	Success bool              `json:"success"`
	Status  controller.Status `json:"status"`
}

// ReloadConfigResponse acknowledges a config reload.
type ReloadConfigResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SubscribeRequest requests event subscription
type SubscribeRequest struct {
	Events []EventType `json:"events"` // Empty means all events
}

// SubscribeResponse acknowledges subscription
type SubscribeResponse struct {
	Success        bool   `json:"success"`
	SubscriptionID string `json:"subscription_id"`
}

// Event is a streamed event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Time is the controller clock in milliseconds.
	Time uint32 `json:"time,omitempty"`

	Key    string `json:"key,omitempty"`
	Detail string `json:"detail,omitempty"`

	// From and To are layer masks; Layers names the layers in To.
	From   uint32   `json:"from,omitempty"`
	To     uint32   `json:"to,omitempty"`
	Layers []string `json:"layers,omitempty"`

	On bool `json:"on,omitempty"`
}

// EventFromController converts a controller event for streaming.
func EventFromController(ev controller.Event) *Event {
	out := &Event{
		Timestamp: time.Now(),
		Time:      uint32(ev.Time),
		Detail:    ev.Detail,
		On:        ev.On,
	}
	switch ev.Kind {
	case controller.EventTap:
		out.Type = EventTap
	case controller.EventHold:
		out.Type = EventHold
	case controller.EventDance:
		out.Type = EventDance
	case controller.EventLayer:
		out.Type = EventLayerChange
		out.From, out.To = uint32(ev.From), uint32(ev.To)
		for _, id := range ev.To.IDs() {
			out.Layers = append(out.Layers, id.Name())
		}
	case controller.EventMode:
		out.Type = EventModeChange
	case controller.EventRGB:
		out.Type = EventRGBChange
	}
	if ev.Key != 0 {
		out.Key = ev.Key.String()
	}
	return out
}

// Encode encodes a payload to JSON bytes
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes to a payload. An empty payload leaves v as is.
func Decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{Code: code, Message: message})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}

// RemoteError is an ErrorResponse received by a client.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message)
}
