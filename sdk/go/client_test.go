package oncallsdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestNewInitializesHTTPClient(t *testing.T) {
	c := New("http://localhost:8080")
	if c.HTTPClient == nil {
		t.Fatal("New should set HTTPClient")
	}
}

func TestReportIncident(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/incidents" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"status":"accepted","incident_id":"INC-AAAA0001","correlation":"created"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "s3cret"
	acc, err := c.ReportIncident(context.Background(), Report{
		SourceSystem: "airflow",
		IncidentID:   "RUN-abc::task-1",
	})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if acc.IncidentID != "INC-AAAA0001" || acc.Correlation != "created" {
		t.Fatalf("unexpected response: %+v", acc)
	}
}

func TestSharedClientIsSafeForConcurrentUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tickets":[]}`))
	}))
	defer srv.Close()

	// Zero-value construction, no New: do must not write to the client.
	c := &Client{BaseURL: srv.URL}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Tickets(context.Background()); err != nil {
				t.Errorf("tickets: %v", err)
			}
		}()
	}
	wg.Wait()
}
