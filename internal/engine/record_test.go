package engine

import (
	"errors"
	"testing"
	"time"
)

func TestLogRecord_String(t *testing.T) {
	ts := time.Date(2024, 1, 2, 15, 4, 5, 123456789, time.Local)

	tests := []struct {
		name string
		rec  LogRecord
		want string
	}{
		{"info", LogRecord{ts, LabelInfo, "boot"}, "[2024-01-02 15:04:05.123456][info] boot"},
		{"custom label", LogRecord{ts, "audit", "login"}, "[2024-01-02 15:04:05.123456][audit] login"},
		{"report", LogRecord{ts, LabelReport, "err\nstack"}, "[2024-01-02 15:04:05.123456][report]\nerr\nstack"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReportBody(t *testing.T) {
	if got := reportBody(errors.New("boom"), []byte("a.go:1\nb.go:2\n")); got != "boom\na.go:1\nb.go:2" {
		t.Errorf("reportBody() = %q", got)
	}
	if got := reportBody(errors.New("boom"), nil); got != "boom" {
		t.Errorf("reportBody() without stack = %q", got)
	}
	if got := reportBody(nil, nil); got != "<nil>" {
		t.Errorf("reportBody(nil) = %q", got)
	}
}
