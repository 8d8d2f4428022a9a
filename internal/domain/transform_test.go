package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSerial = "S1234567"

func TestParseRawEvent(t *testing.T) {
	received := time.Date(2024, 5, 1, 12, 0, 30, 0, time.UTC)

	t.Run("full RS41 frame", func(t *testing.T) {
		data := []byte(`{"serial":"S1234567","lat":40.70,"lon":-74.00,"alt":274.32,"vel_v":-5.2,"datetime":"2024-05-01T12:00:00.000Z","type":"RS41","subtype":"RS41-SGP"}`)
		event, err := ParseRawEvent(RawEvent{Value: data, Timestamp: received, Source: "kafka"})

		require.NoError(t, err)
		assert.Equal(t, testSerial, event.ObjectID)
		assert.Equal(t, 40.70, event.Lat)
		assert.Equal(t, -74.00, event.Lon)
		assert.InDelta(t, 900.0, event.AltitudeFt, 0.01)
		require.NotNil(t, event.ClimbRate)
		assert.Equal(t, -5.2, *event.ClimbRate)
		assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), event.Timestamp)
		assert.Equal(t, "RS41-SGP", event.Subtype)
		assert.Equal(t, "kafka", event.Source)
	})

	t.Run("missing vel_v leaves climb rate unknown", func(t *testing.T) {
		data := []byte(`{"serial":"S1234567","lat":40.70,"lon":-74.00,"alt":1000,"datetime":"2024-05-01T12:00:00Z"}`)
		event, err := ParseRawEvent(RawEvent{Value: data})

		require.NoError(t, err)
		assert.Nil(t, event.ClimbRate)
	})

	t.Run("missing datetime uses message timestamp", func(t *testing.T) {
		data := []byte(`{"serial":"S1234567","lat":40.70,"lon":-74.00,"alt":1000}`)
		event, err := ParseRawEvent(RawEvent{Value: data, Timestamp: received})

		require.NoError(t, err)
		assert.Equal(t, received, event.Timestamp)
	})

	t.Run("missing datetime and timestamp uses clock", func(t *testing.T) {
		now := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
		SetClock(clockwork.NewFakeClockAt(now))
		t.Cleanup(func() { SetClock(nil) })

		data := []byte(`{"serial":"S1234567","lat":40.70,"lon":-74.00,"alt":1000}`)
		event, err := ParseRawEvent(RawEvent{Value: data})

		require.NoError(t, err)
		assert.Equal(t, now, event.Timestamp)
	})

	t.Run("zero coordinates are valid", func(t *testing.T) {
		data := []byte(`{"serial":"S1","lat":0,"lon":0,"alt":0,"datetime":"2024-05-01T12:00:00Z"}`)
		event, err := ParseRawEvent(RawEvent{Value: data})

		require.NoError(t, err)
		assert.Equal(t, 0.0, event.Lat)
	})
}

func TestParseRawEvent_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"invalid JSON", `{invalid json`, "parse raw event"},
		{"missing serial", `{"lat":1,"lon":1,"alt":1}`, "missing serial"},
		{"missing lat", `{"serial":"S1","lon":1,"alt":1}`, "missing position"},
		{"missing altitude", `{"serial":"S1","lat":1,"lon":1}`, "missing altitude"},
		{"latitude out of range", `{"serial":"S1","lat":91,"lon":1,"alt":1,"datetime":"2024-05-01T12:00:00Z"}`, "out of range"},
		{"bad datetime", `{"serial":"S1","lat":1,"lon":1,"alt":1,"datetime":"yesterday"}`, "invalid datetime"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRawEvent(RawEvent{Value: []byte(tt.data)})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedEvent))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTelemetryEvent_Validate(t *testing.T) {
	valid := testEvent(900, nil)
	require.NoError(t, valid.Validate())

	noID := valid
	noID.ObjectID = ""
	assert.ErrorIs(t, noID.Validate(), ErrMalformedEvent)

	noTime := valid
	noTime.Timestamp = time.Time{}
	assert.ErrorIs(t, noTime.Validate(), ErrMalformedEvent)

	nanAlt := valid
	nanAlt.AltitudeFt = math.NaN()
	assert.ErrorIs(t, nanAlt.Validate(), ErrMalformedEvent)

	infAlt := valid
	infAlt.AltitudeFt = math.Inf(1)
	assert.ErrorIs(t, infAlt.Validate(), ErrMalformedEvent)

	infClimb := testEvent(900, Float(math.Inf(-1)))
	assert.ErrorIs(t, infClimb.Validate(), ErrMalformedEvent)
}

func TestDeriveClimbRate(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	prev := TelemetryEvent{AltitudeFt: MetersToFeet(1000), Timestamp: base}
	cur := TelemetryEvent{AltitudeFt: MetersToFeet(950), Timestamp: base.Add(10 * time.Second)}

	rate := DeriveClimbRate(prev, cur)
	require.NotNil(t, rate)
	assert.InDelta(t, -5.0, *rate, 1e-9)

	assert.Nil(t, DeriveClimbRate(cur, prev), "out of order frames")
	assert.Nil(t, DeriveClimbRate(prev, prev), "same timestamp")
}
