package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type CustomJSONFormatter struct {
	TimestampFormat string
	PrettyPrint     bool
	AppName         string
	Version         string
}

// CustomTextFormatter writes one line per entry. The component field, when
// present, is lifted into the prefix so lines from one subsystem align.
type CustomTextFormatter struct {
	TimestampFormat string
	ForceColors     bool
	DisableColors   bool
	AppName         string
}

func entryBuffer(entry *logrus.Entry) *bytes.Buffer {
	if entry.Buffer != nil {
		return entry.Buffer
	}
	return &bytes.Buffer{}
}

func (f *CustomJSONFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	data := make(logrus.Fields, len(entry.Data)+6)
	for k, v := range entry.Data {
		// encoding/json renders most error values as {}
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		data[k] = v
	}

	layout := f.TimestampFormat
	if layout == "" {
		layout = time.RFC3339Nano
	}
	data["timestamp"] = entry.Time.Format(layout)
	data["level"] = entry.Level.String()
	data["message"] = entry.Message
	if f.AppName != "" {
		data["app"] = f.AppName
	}
	if f.Version != "" {
		data["version"] = f.Version
	}
	if entry.HasCaller() {
		data["caller"] = fmt.Sprintf("%s:%d", entry.Caller.File, entry.Caller.Line)
	}

	b := entryBuffer(entry)
	encoder := json.NewEncoder(b)
	if f.PrettyPrint {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(data); err != nil {
		return nil, fmt.Errorf("failed to encode log entry: %w", err)
	}
	return b.Bytes(), nil
}

func (f *CustomTextFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := entryBuffer(entry)

	layout := f.TimestampFormat
	if layout == "" {
		layout = "2006-01-02 15:04:05.000"
	}

	level := strings.ToUpper(entry.Level.String())
	if f.ForceColors && !f.DisableColors {
		level = levelColor(entry.Level) + level + "\033[0m"
	}
	fmt.Fprintf(b, "%s %-5s ", entry.Time.Format(layout), level)

	if f.AppName != "" {
		fmt.Fprintf(b, "%s ", f.AppName)
	}
	if component, ok := entry.Data["component"]; ok {
		fmt.Fprintf(b, "[%v] ", component)
	}
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k != "component" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, entry.Data[k])
	}
	if entry.HasCaller() {
		fmt.Fprintf(b, " caller=%s:%d", entry.Caller.File, entry.Caller.Line)
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

func levelColor(level logrus.Level) string {
	switch level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return "\033[31m"
	case logrus.WarnLevel:
		return "\033[33m"
	case logrus.InfoLevel:
		return "\033[36m"
	}
	return "\033[37m"
}
