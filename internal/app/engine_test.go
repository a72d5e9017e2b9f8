package app

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"redline/internal/canonical"
	"redline/internal/contentlog"
	"redline/internal/diff"
	"redline/internal/engine"
	"redline/internal/logging"
	"redline/internal/report"
	"redline/internal/versionstore"
)

func TestSlotLifecycleAgainstEngine(t *testing.T) {
	dir := t.TempDir()
	reportPath := filepath.Join(dir, "diff_report.md")
	eng, err := engine.New(engine.Options{
		Store:     versionstore.New(contentlog.NewMemory(), logging.Discard()),
		Differ:    diff.New(diff.Options{MaxTokens: 1000}),
		Converter: canonical.NewNative(filepath.Join(dir, "work")),
		Writer:    report.NewWriter(reportPath, logging.Discard()),
		Context:   report.DefaultContext,
		Logger:    logging.Discard(),
	})
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	h := NewHTTPServer(eng, Options{UploadDir: filepath.Join(dir, "uploads")}, logging.Discard()).Handler()

	for _, text := range []string{"The term is 12 months.", "The term is 24 months, renewable annually."} {
		body := strings.NewReader(`{"text":"` + text + `"}`)
		rr := serve(h, httptest.NewRequest(http.MethodPost, "/api/slots/master/snapshots", body))
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
		}
	}

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/api/slots/master/diff?format=text", nil))
	want := "The term is 🔴12\u2060🟢24\u2060 months🔴.\u2060🟢, renewable annually.\u2060\n"
	if rr.Body.String() != want {
		t.Fatalf("diff body = %q, want %q", rr.Body.String(), want)
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "+, renewable annually.\n") {
		t.Fatalf("unexpected report:\n%s", data)
	}

	rr = serve(h, httptest.NewRequest(http.MethodDelete, "/api/slots/master", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	rr = serve(h, httptest.NewRequest(http.MethodGet, "/api/slots/master/history", nil))
	if payload := decodeResponse(t, rr); len(payload["snapshots"].([]any)) != 0 {
		t.Fatalf("history not cleared: %v", payload["snapshots"])
	}
}
