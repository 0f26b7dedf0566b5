package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantWarn  bool
	}{
		{level: DEBUG, wantDebug: true, wantWarn: true},
		{level: EMPTY, wantDebug: false, wantWarn: true},
		{level: ERROR, wantDebug: false, wantWarn: false},
		{level: "verbose", wantDebug: false, wantWarn: true},
	}

	for _, tt := range tests {
		t.Run("level="+tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(Config{Level: tt.level, Output: &buf})

			log.Debug("debug message")
			if got := strings.Contains(buf.String(), "debug message"); got != tt.wantDebug {
				t.Errorf("debug logged = %v, want %v", got, tt.wantDebug)
			}
			log.Warn("warn message")
			if got := strings.Contains(buf.String(), "warn message"); got != tt.wantWarn {
				t.Errorf("warn logged = %v, want %v", got, tt.wantWarn)
			}
		})
	}
}

func TestNew_ServiceAttributeAndWith(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Output: &buf, Service: "reservations"}).With("session_id", "s1")

	log.Info("booking created", "booking_id", "b1")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected a JSON record: %v", err)
	}
	for key, want := range map[string]string{SERVICE: "reservations", "session_id": "s1", "booking_id": "b1"} {
		if record[key] != want {
			t.Errorf("%s = %v, want %s", key, record[key], want)
		}
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Format: TEXT, Output: &buf}).Info("hello")

	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}
