package log

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// JSONFormatter renders entries as single-line JSON objects.
type JSONFormatter struct{}

type jsonEntry struct {
	Time    string                 `json:"time"`
	Level   string                 `json:"level"`
	Message string                 `json:"msg"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
	Caller  string                 `json:"caller,omitempty"`
}

// Format implements Formatter.
func (JSONFormatter) Format(entry *Entry) ([]byte, error) {
	je := jsonEntry{
		Time:    entry.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Level:   entry.Level.String(),
		Message: entry.Message,
		Fields:  entry.Fields,
		Caller:  entry.Caller,
	}
	b, err := json.Marshal(je)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// TextFormatter renders entries as human-readable key=value lines.
type TextFormatter struct{}

// Format implements Formatter.
func (TextFormatter) Format(entry *Entry) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString(entry.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	sb.WriteByte(' ')
	sb.WriteString(entry.Level.String())
	sb.WriteByte(' ')
	sb.WriteString(entry.Message)
	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, entry.Fields[k])
	}
	sb.WriteByte('\n')
	return []byte(sb.String()), nil
}
