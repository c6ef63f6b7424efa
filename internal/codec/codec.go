// Package codec reads and writes events as JSON lines.
//
// Each line is one JSON object. The envelope keys are reserved:
//
//	{"timestamp":1700000000000,"sourceID":"thermo-1","topic":"plant","value":21.5}
//
// timestamp is in milliseconds since the Unix epoch and defaults to the
// decode time. topic defaults to sourceID. Every other key is an attribute
// of the record.
package codec

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/sensorbus/internal/event"
)

// Envelope keys.
const (
	KeyTimestamp = "timestamp"
	KeySourceID  = "sourceID"
	KeyTopic     = "topic"
	KeyType      = "type"
)

// MaxLineSize is the longest line the Decoder accepts.
const MaxLineSize = 1 << 20

// Errors returned by the decoder.
var (
	ErrMalformed       = errors.New("malformed JSON")
	ErrNotObject       = errors.New("line is not a JSON object")
	ErrMissingSourceID = errors.New("missing sourceID")
)

// LineError reports a decode failure on a specific input line.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Record is an event decoded from a JSON line.
type Record struct {
	event.BaseEvent

	// Topic is the topic the record is published to.
	Topic string

	// Data holds the non-envelope keys.
	Data map[string]any
}

// Attributes exposes Data to script filters.
func (r Record) Attributes() map[string]any {
	return r.Data
}

// Attributed is implemented by events with payload attributes to encode.
type Attributed interface {
	Attributes() map[string]any
}

// Decoder reads records from a JSON-lines stream.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
	now     func() time.Time
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &Decoder{scanner: scanner, now: time.Now}
}

// Next returns the next record. Blank lines are skipped. It returns io.EOF
// at the end of the input and a *LineError for a bad line; decoding may
// continue after a *LineError.
func (d *Decoder) Next() (Record, error) {
	for d.scanner.Scan() {
		d.line++
		line := d.scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		rec, err := d.decode(line)
		if err != nil {
			return Record{}, &LineError{Line: d.line, Err: err}
		}
		return rec, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Record{}, err
	}
	return Record{}, io.EOF
}

// Line returns the number of the last line read.
func (d *Decoder) Line() int {
	return d.line
}

func (d *Decoder) decode(line []byte) (Record, error) {
	if !gjson.ValidBytes(line) {
		return Record{}, ErrMalformed
	}
	root := gjson.ParseBytes(line)
	if !root.IsObject() {
		return Record{}, ErrNotObject
	}

	envelope := gjson.GetManyBytes(line, KeyTimestamp, KeySourceID, KeyTopic)
	ts, sourceID, topic := envelope[0], envelope[1], envelope[2]

	if sourceID.Type != gjson.String || sourceID.Str == "" {
		return Record{}, ErrMissingSourceID
	}

	timestamp := d.now().UnixMilli()
	if ts.Exists() {
		if ts.Type != gjson.Number {
			return Record{}, fmt.Errorf("%s must be a number", KeyTimestamp)
		}
		timestamp = ts.Int()
	}

	topicID := sourceID.Str
	if topic.Exists() && topic.String() != "" {
		topicID = topic.String()
	}

	data := make(map[string]any)
	root.ForEach(func(key, value gjson.Result) bool {
		switch key.Str {
		case KeyTimestamp, KeySourceID, KeyTopic:
		default:
			data[key.Str] = value.Value()
		}
		return true
	})

	return Record{
		BaseEvent: event.NewBaseEventAt(timestamp, sourceID.Str, nil),
		Topic:     topicID,
		Data:      data,
	}, nil
}

// Marshal renders e as a single JSON object. Events other than Records get
// a type key with their Go type name. Attributes of Attributed events are
// added after the envelope in key order; an attribute named like an
// envelope key is skipped.
func Marshal(e event.Event, topic string) ([]byte, error) {
	out := []byte("{}")
	var err error

	if out, err = sjson.SetBytes(out, KeyTimestamp, e.Timestamp()); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, KeySourceID, e.SourceID()); err != nil {
		return nil, err
	}
	if topic != "" {
		if out, err = sjson.SetBytes(out, KeyTopic, topic); err != nil {
			return nil, err
		}
	}
	_, isRecord := e.(Record)
	if !isRecord {
		if out, err = sjson.SetBytes(out, KeyType, reflect.TypeOf(e).String()); err != nil {
			return nil, err
		}
	}

	if a, ok := e.(Attributed); ok {
		attrs := a.Attributes()
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			switch k {
			case KeyTimestamp, KeySourceID, KeyTopic:
				continue
			case KeyType:
				if !isRecord {
					continue
				}
			}
			if out, err = sjson.SetBytes(out, escapePath(k), attrs[k]); err != nil {
				return nil, fmt.Errorf("attribute %q: %w", k, err)
			}
		}
	}

	return out, nil
}

// escapePath makes a literal key safe to use as an sjson path.
func escapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '\\', '.', '*', '?', '|', '#', '@', '!', ':':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Writer writes events as JSON lines. It is safe for concurrent use, so
// several subscribers can share one output.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes e with its topic and appends a newline.
func (w *Writer) Write(e event.Event, topic string) error {
	line, err := Marshal(e, topic)
	if err != nil {
		return err
	}
	return w.WriteRaw(line)
}

// WriteRaw writes an already encoded JSON object as one line.
func (w *Writer) WriteRaw(line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.w.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}
