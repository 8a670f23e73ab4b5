package decoder

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"example.com/heartstream/internal/domain"
)

// Kind tells which wire shape a producer message had.
type Kind int

const (
	// KindRaw is a bare base64 payload with no routing metadata.
	KindRaw Kind = iota
	// KindEnvelope is a JSON object carrying device metadata and a base64 payload.
	KindEnvelope
)

func (k Kind) String() string {
	if k == KindEnvelope {
		return "envelope"
	}
	return "raw"
}

// Message is a parsed producer message. Raw messages always carry the default
// device tags.
type Message struct {
	Kind       Kind
	DeviceType string
	DeviceID   string
	Data       string
	Latitude   *float64
	Longitude  *float64
}

type envelope struct {
	DeviceType *string  `json:"device_type"`
	DeviceID   *string  `json:"device_id"`
	Data       *string  `json:"data"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
}

// ParseMessage classifies raw as an envelope or a bare payload. It never fails:
// anything that is not a JSON object falls back to KindRaw.
func ParseMessage(raw []byte) Message {
	trimmed := bytes.TrimSpace(raw)

	var env envelope
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Unmarshal(trimmed, &env) == nil {
		msg := Message{
			Kind:       KindEnvelope,
			DeviceType: domain.DefaultDeviceType,
			DeviceID:   domain.DefaultDeviceID,
			Latitude:   env.Latitude,
			Longitude:  env.Longitude,
		}
		if env.DeviceType != nil && *env.DeviceType != "" {
			msg.DeviceType = *env.DeviceType
		}
		if env.DeviceID != nil && *env.DeviceID != "" {
			msg.DeviceID = *env.DeviceID
		}
		if env.Data != nil {
			msg.Data = *env.Data
		}
		return msg
	}

	return Message{
		Kind:       KindRaw,
		DeviceType: domain.DefaultDeviceType,
		DeviceID:   domain.DefaultDeviceID,
		Data:       string(trimmed),
	}
}

// Payload base64-decodes the message data.
func (m Message) Payload() ([]byte, error) {
	data := strings.TrimSpace(m.Data)
	if data == "" {
		return nil, fmt.Errorf("%w: empty %s data", ErrNoSample, m.Kind)
	}
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		var rawErr error
		decoded, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
		if rawErr != nil {
			return nil, fmt.Errorf("%w: invalid base64: %v", ErrNoSample, err)
		}
	}
	return decoded, nil
}

// Decode parses the payload with the decoder selected by the message's device type.
func (m Message) Decode() (Reading, error) {
	payload, err := m.Payload()
	if err != nil {
		return Reading{}, err
	}
	return Decode(m.DeviceType, payload)
}
