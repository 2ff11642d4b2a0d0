package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func loggedRequest(t *testing.T, status int, path string, body string) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))

	req := httptest.NewRequest("GET", path, nil)
	req.RemoteAddr = "10.0.0.5:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v (%q)", err, buf.String())
	}
	return entry
}

func TestRequestLoggerFields(t *testing.T) {
	entry := loggedRequest(t, http.StatusOK, "/webhook", "okay")

	if entry["method"] != "GET" || entry["path"] != "/webhook" {
		t.Errorf("entry = %v", entry)
	}
	if entry["status"] != float64(200) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if entry["bytes"] != float64(4) {
		t.Errorf("bytes = %v, want 4", entry["bytes"])
	}
	if entry["remote"] != "10.0.0.5" {
		t.Errorf("remote = %v, want 10.0.0.5", entry["remote"])
	}
}

func TestRequestLoggerLevels(t *testing.T) {
	cases := []struct {
		status int
		path   string
		level  string
	}{
		{http.StatusOK, "/webhook", "INFO"},
		{http.StatusOK, "/health", "DEBUG"},
		{http.StatusUnauthorized, "/cron/daily", "WARN"},
		{http.StatusInternalServerError, "/cron/daily", "ERROR"},
	}
	for _, tc := range cases {
		entry := loggedRequest(t, tc.status, tc.path, "")
		if entry["level"] != tc.level {
			t.Errorf("%d %s: level = %v, want %s", tc.status, tc.path, entry["level"], tc.level)
		}
	}
}
