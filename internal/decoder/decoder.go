// Package decoder turns BLE heart-rate characteristic payloads into readings.
package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Device type tags understood by Decode. Any other tag uses the standard layout.
const (
	DeviceHeartRateBand = "heartRateBand"
	DeviceArmband       = "armband"
)

const (
	flagUint16HeartRate = 0x01
	flagRRPresent       = 0x10

	// BLE RR intervals tick at 1/1024 s.
	rrResolution = 1024.0
)

// ErrNoSample means the payload could not produce a reading for the selected variant.
// A decoded heart rate of zero is not this error.
var ErrNoSample = errors.New("decoder: no sample")

// Reading is the decoded content of one payload.
type Reading struct {
	HeartRate   int
	RRIntervals []float64
}

// Decode parses payload according to the layout used by deviceType.
func Decode(deviceType string, payload []byte) (Reading, error) {
	switch deviceType {
	case DeviceArmband:
		return decodeArmband(payload)
	default:
		return decodeStandard(payload)
	}
}

func decodeStandard(payload []byte) (Reading, error) {
	if len(payload) < 2 {
		return Reading{}, fmt.Errorf("%w: payload length %d", ErrNoSample, len(payload))
	}

	flags := payload[0]
	reading := Reading{RRIntervals: []float64{}}
	// offset tracks the first byte after the heart-rate field, where RR pairs begin.
	offset := 2
	if flags&flagUint16HeartRate == 0 {
		reading.HeartRate = int(payload[1])
	} else {
		if len(payload) < 3 {
			return Reading{}, fmt.Errorf("%w: 16-bit heart rate needs 3 bytes, got %d", ErrNoSample, len(payload))
		}
		reading.HeartRate = int(binary.LittleEndian.Uint16(payload[1:3]))
		offset = 3
	}

	if flags&flagRRPresent != 0 {
		for i := offset; i+1 < len(payload); i += 2 {
			raw := binary.LittleEndian.Uint16(payload[i : i+2])
			reading.RRIntervals = append(reading.RRIntervals, RRMillis(raw))
		}
	}
	return reading, nil
}

func decodeArmband(payload []byte) (Reading, error) {
	if len(payload) < 2 {
		return Reading{}, fmt.Errorf("%w: payload length %d", ErrNoSample, len(payload))
	}
	return Reading{HeartRate: int(payload[1]), RRIntervals: []float64{}}, nil
}

// RRMillis converts a raw 1/1024 s RR value to milliseconds rounded to 2 decimals.
func RRMillis(raw uint16) float64 {
	ms := float64(raw) * 1000 / rrResolution
	return math.Round(ms*100) / 100
}
