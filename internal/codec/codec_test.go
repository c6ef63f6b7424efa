package codec

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/dshills/sensorbus/internal/event"
	"github.com/dshills/sensorbus/internal/event/events"
)

func TestDecoder_Next(t *testing.T) {
	input := strings.Join([]string{
		`{"timestamp":1700000000000,"sourceID":"thermo-1","topic":"plant","value":21.5,"tags":["a"]}`,
		``,
		`{"sourceID":"gauge-2","ok":true}`,
	}, "\n")

	dec := NewDecoder(strings.NewReader(input))
	dec.now = func() time.Time { return time.UnixMilli(42) }

	first, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), first.Timestamp())
	assert.Equal(t, "thermo-1", first.SourceID())
	assert.Equal(t, "plant", first.Topic)
	assert.Equal(t, map[string]any{"value": 21.5, "tags": []any{"a"}}, first.Data)

	second, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(42), second.Timestamp(), "missing timestamp defaults to now")
	assert.Equal(t, "gauge-2", second.Topic, "topic defaults to sourceID")
	assert.Equal(t, map[string]any{"ok": true}, second.Attributes())
	assert.Equal(t, 3, dec.Line())

	_, err = dec.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDecoder_Errors(t *testing.T) {
	tests := []struct {
		name string
		line string
		err  error
	}{
		{"malformed", `{"sourceID":`, ErrMalformed},
		{"array", `["thermo-1"]`, ErrNotObject},
		{"no source", `{"topic":"plant"}`, ErrMissingSourceID},
		{"empty source", `{"sourceID":""}`, ErrMissingSourceID},
		{"numeric source", `{"sourceID":7}`, ErrMissingSourceID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(strings.NewReader(tt.line)).Next()
			assert.ErrorIs(t, err, tt.err)

			var lerr *LineError
			require.ErrorAs(t, err, &lerr)
			assert.Equal(t, 1, lerr.Line)
		})
	}

	_, err := NewDecoder(strings.NewReader(`{"sourceID":"a","timestamp":"noon"}`)).Next()
	assert.Error(t, err)
}

func TestDecoder_ContinuesAfterBadLine(t *testing.T) {
	dec := NewDecoder(strings.NewReader("nope\n{\"sourceID\":\"ok\"}\n"))

	_, err := dec.Next()
	var lerr *LineError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, "line 1: malformed JSON", lerr.Error())

	rec, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "ok", rec.SourceID())
}

func TestMarshal_Event(t *testing.T) {
	e := events.DataEvent{
		BaseEvent: event.NewBaseEventAt(1000, "thermo-1", nil),
		Channel:   "temperature",
		Value:     21.5,
	}

	out, err := Marshal(e, "plant")
	require.NoError(t, err)
	assert.Equal(t,
		`{"timestamp":1000,"sourceID":"thermo-1","topic":"plant","type":"events.DataEvent","channel":"temperature","value":21.5}`,
		string(out))

	plain, err := Marshal(event.NewBaseEventAt(5, "x", nil), "")
	require.NoError(t, err)
	assert.Equal(t, `{"timestamp":5,"sourceID":"x","type":"event.BaseEvent"}`, string(plain))
}

func TestMarshal_RecordRoundTrip(t *testing.T) {
	line := `{"timestamp":7,"sourceID":"s","topic":"t","a.b":1,"type":"custom","nested":{"k":[1,2]}}`
	rec, err := NewDecoder(strings.NewReader(line)).Next()
	require.NoError(t, err)

	out, err := Marshal(rec, rec.Topic)
	require.NoError(t, err)

	got := gjson.ParseBytes(out)
	assert.Equal(t, int64(7), got.Get("timestamp").Int())
	assert.Equal(t, "t", got.Get("topic").String())
	assert.Equal(t, "custom", got.Get("type").String(), "record attributes keep their type key")
	assert.Equal(t, int64(1), got.Get(`a\.b`).Int(), "dotted keys stay literal")
	assert.Equal(t, int64(2), got.Get("nested.k.1").Int())
}

func TestMarshal_SkipsEnvelopeAttributes(t *testing.T) {
	rec := Record{
		BaseEvent: event.NewBaseEventAt(1, "real", nil),
		Topic:     "t",
		Data:      map[string]any{"sourceID": "fake", "v": "x"},
	}

	out, err := Marshal(rec, rec.Topic)
	require.NoError(t, err)
	assert.Equal(t, "real", gjson.GetBytes(out, "sourceID").String())
	assert.Equal(t, "x", gjson.GetBytes(out, "v").String())
}

func TestWriter_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, w.Write(events.NewStatusEvent("s", events.SensorStarted), "t"))
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 100)
	for _, l := range lines {
		assert.True(t, gjson.Valid(l), l)
		assert.Equal(t, "started", gjson.Get(l, "state").String())
	}
}
