package notify

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func TestNotifyRunCompleteNoWebhookIsNoop(t *testing.T) {
	os.Unsetenv("NOTIFY_WEBHOOK_URL")
	if err := NotifyRunComplete("", Summary{Command: "release", Success: true}); err != nil {
		t.Fatalf("expected no-op, got error: %v", err)
	}
}

func TestNotifyRunCompletePostsSummary(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 4096)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NotifyRunComplete(srv.URL, Summary{
		Command: "publish",
		Success: true,
		Packages: []PackageOutcome{
			{Name: "alpha", Version: "1.2.0", Tag: "alpha-v1.2.0"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(gotBody, "publish completed successfully") {
		t.Fatalf("expected summary text in body, got %q", gotBody)
	}
	if !strings.Contains(gotBody, "alpha 1.2.0") {
		t.Fatalf("expected package line in body, got %q", gotBody)
	}
}

func TestNotifyRunCompleteFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NotifyRunComplete(srv.URL, Summary{Command: "release", Success: false, Detail: "boom"})
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
