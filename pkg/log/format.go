package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// TextFormatter renders entries as a single human-readable line:
//
//	2024-01-02T15:04:05.000Z INFO  message key=value ...
type TextFormatter struct {
	// TimeFormat defaults to RFC3339 with milliseconds.
	TimeFormat string
}

func (f *TextFormatter) Format(e *Entry) ([]byte, error) {
	tf := f.TimeFormat
	if tf == "" {
		tf = "2006-01-02T15:04:05.000Z07:00"
	}
	var b bytes.Buffer
	b.WriteString(e.Timestamp.Format(tf))
	b.WriteByte(' ')
	fmt.Fprintf(&b, "%-5s", e.Level.String())
	b.WriteByte(' ')
	b.WriteString(e.Message)
	for _, k := range sortedKeys(e.Fields) {
		fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// JSONFormatter renders one JSON object per entry.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(e *Entry) ([]byte, error) {
	obj := make(map[string]interface{}, len(e.Fields)+4)
	for k, v := range e.Fields {
		obj[k] = v
	}
	obj["ts"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	obj["level"] = e.Level.String()
	obj["msg"] = e.Message
	if e.Caller != "" {
		obj["caller"] = e.Caller
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

func sortedKeys(f Fields) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
