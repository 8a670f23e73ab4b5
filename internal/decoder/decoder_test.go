package decoder

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeStandardLayout(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
		hr      int
		rr      []float64
	}{
		{name: "8-bit heart rate", payload: []byte{0x00, 0x46}, hr: 70, rr: []float64{}},
		{name: "16-bit heart rate", payload: []byte{0x01, 0x46, 0x00}, hr: 70, rr: []float64{}},
		{name: "16-bit high byte", payload: []byte{0x01, 0x2C, 0x01}, hr: 300, rr: []float64{}},
		{name: "rr interval", payload: []byte{0x10, 0x46, 0xE8, 0x03}, hr: 70, rr: []float64{976.56}},
		// pairs start right after an 8-bit heart rate, so a padding byte shifts them
		{name: "rr read from byte after 8-bit heart rate", payload: []byte{0x10, 0x46, 0x00, 0xE8, 0x03}, hr: 70, rr: []float64{58000}},
		{name: "16-bit with two rr", payload: []byte{0x11, 0x46, 0x00, 0x00, 0x04, 0x00, 0x02}, hr: 70, rr: []float64{1000, 500}},
		{name: "trailing odd byte dropped", payload: []byte{0x10, 0x46, 0x00, 0x04, 0x01}, hr: 70, rr: []float64{1000}},
		{name: "rr flag without pairs", payload: []byte{0x10, 0x46}, hr: 70, rr: []float64{}},
		{name: "rr bytes ignored without flag", payload: []byte{0x00, 0x46, 0x00, 0x04}, hr: 70, rr: []float64{}},
		{name: "zero heart rate", payload: []byte{0x00, 0x00}, hr: 0, rr: []float64{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reading, err := Decode(DeviceHeartRateBand, tc.payload)
			require.NoError(t, err)
			require.Equal(t, tc.hr, reading.HeartRate)
			require.Equal(t, tc.rr, reading.RRIntervals)
		})
	}
}

func TestDecodeUnknownDeviceUsesStandardLayout(t *testing.T) {
	reading, err := Decode("unknown", []byte{0x10, 0x46, 0xE8, 0x03})
	require.NoError(t, err)
	require.Equal(t, 70, reading.HeartRate)
	require.Equal(t, []float64{976.56}, reading.RRIntervals)
}

func TestDecodeArmband(t *testing.T) {
	reading, err := Decode(DeviceArmband, []byte{0x10, 0x50, 0x00, 0xE8, 0x03})
	require.NoError(t, err)
	require.Equal(t, 80, reading.HeartRate)
	require.Empty(t, reading.RRIntervals)
	require.NotNil(t, reading.RRIntervals)

	_, err = Decode(DeviceArmband, []byte{0x00})
	require.ErrorIs(t, err, ErrNoSample)
}

func TestDecodeShortPayloads(t *testing.T) {
	for _, payload := range [][]byte{nil, {}, {0x00}, {0x01, 0x46}} {
		_, err := Decode(DeviceHeartRateBand, payload)
		require.ErrorIs(t, err, ErrNoSample, "payload %v", payload)
	}
}

func TestRRMillisIsMonotonic(t *testing.T) {
	prev := RRMillis(0)
	require.Zero(t, prev)
	for raw := 1; raw <= 0xFFFF; raw++ {
		ms := RRMillis(uint16(raw))
		require.GreaterOrEqual(t, ms, prev, "raw %d", raw)
		prev = ms
	}
	require.Equal(t, 1000.0, RRMillis(1024))
	require.Equal(t, 976.56, RRMillis(1000))
}

func TestParseMessageEnvelope(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte{0x00, 0x48})

	cases := []struct {
		name       string
		raw        string
		kind       Kind
		deviceType string
		deviceID   string
	}{
		{
			name:       "full envelope",
			raw:        `{"device_type":"armband","device_id":"band-7","data":"` + data + `"}`,
			kind:       KindEnvelope,
			deviceType: "armband",
			deviceID:   "band-7",
		},
		{
			name:       "defaults applied",
			raw:        `{"data":"` + data + `"}`,
			kind:       KindEnvelope,
			deviceType: "unknown",
			deviceID:   "COOSPO",
		},
		{
			name:       "bare base64",
			raw:        data,
			kind:       KindRaw,
			deviceType: "unknown",
			deviceID:   "COOSPO",
		},
		{
			name:       "bare base64 with whitespace",
			raw:        "  " + data + "\n",
			kind:       KindRaw,
			deviceType: "unknown",
			deviceID:   "COOSPO",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := ParseMessage([]byte(tc.raw))
			require.Equal(t, tc.kind, msg.Kind)
			require.Equal(t, tc.deviceType, msg.DeviceType)
			require.Equal(t, tc.deviceID, msg.DeviceID)

			reading, err := msg.Decode()
			require.NoError(t, err)
			require.Equal(t, 72, reading.HeartRate)
		})
	}
}

func TestParseMessageCarriesCoordinates(t *testing.T) {
	msg := ParseMessage([]byte(`{"data":"AEg=","latitude":51.5,"longitude":-0.12}`))
	require.Equal(t, KindEnvelope, msg.Kind)
	require.NotNil(t, msg.Latitude)
	require.NotNil(t, msg.Longitude)
	require.Equal(t, 51.5, *msg.Latitude)
	require.Equal(t, -0.12, *msg.Longitude)
}

func TestParseMessageFallbacks(t *testing.T) {
	t.Run("malformed json is raw", func(t *testing.T) {
		msg := ParseMessage([]byte(`{"device_type":`))
		require.Equal(t, KindRaw, msg.Kind)
		_, err := msg.Decode()
		require.ErrorIs(t, err, ErrNoSample)
	})

	t.Run("non-object json is raw", func(t *testing.T) {
		msg := ParseMessage([]byte(`"AEg="`))
		require.Equal(t, KindRaw, msg.Kind)
		_, err := msg.Decode()
		require.ErrorIs(t, err, ErrNoSample)
	})

	t.Run("envelope without data", func(t *testing.T) {
		msg := ParseMessage([]byte(`{"device_type":"heartRateBand"}`))
		require.Equal(t, KindEnvelope, msg.Kind)
		_, err := msg.Payload()
		require.ErrorIs(t, err, ErrNoSample)
	})

	t.Run("invalid base64", func(t *testing.T) {
		msg := ParseMessage([]byte("not base64!"))
		_, err := msg.Payload()
		require.ErrorIs(t, err, ErrNoSample)
	})

	t.Run("unpadded base64", func(t *testing.T) {
		msg := ParseMessage([]byte("AEg"))
		payload, err := msg.Payload()
		require.NoError(t, err)
		require.Equal(t, []byte{0x00, 0x48}, payload)
	})
}
