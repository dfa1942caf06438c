package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/netmetrics/internal/httputil"
	"github.com/breeze-rmm/netmetrics/internal/report"
)

func sampleReport() *report.Report {
	return &report.Report{
		Header: report.Header{ReportID: 42, Version: report.Version},
		Metrics: report.Metrics{
			ListeningTCPPorts: report.PortList{Ports: []report.PortEntry{{Port: 22}}, Total: 1},
			NetworkStats:      report.NetworkStats{BytesIn: 10, BytesOut: 20},
		},
	}
}

func TestWriterSinkYAMLDocuments(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf, report.FormatYAML)
	for range 2 {
		if err := s.Publish(context.Background(), sampleReport()); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if n := strings.Count(buf.String(), "report_id: 42"); n != 2 {
		t.Fatalf("found %d reports, want 2:\n%s", n, buf.String())
	}
	if !strings.Contains(buf.String(), "---\n") {
		t.Fatal("missing document separator")
	}
}

func TestHTTPSinkPostsJSON(t *testing.T) {
	received := make(chan report.Report, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var rep report.Report
		if err := json.Unmarshal(body, &rep); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- rep
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewHTTPSink(srv.URL, "tok")
	if err := s.Publish(context.Background(), sampleReport()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	rep := <-received
	if rep.Header.ReportID != 42 || rep.Metrics.NetworkStats.BytesOut != 20 {
		t.Fatalf("server got %+v", rep)
	}
}

func TestHTTPSinkRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewHTTPSink(srv.URL, "")
	s.policy = httputil.RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond}
	if err := s.Publish(context.Background(), sampleReport()); err == nil {
		t.Fatal("expected error for 403")
	}
}

func TestWebSocketSinkStreams(t *testing.T) {
	received := make(chan []byte, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err == nil {
			received <- msg
		}
	}))
	defer srv.Close()

	s := NewWebSocketSink(srv.URL, "")
	defer s.Close()
	if err := s.Publish(context.Background(), sampleReport()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case msg := <-received:
		if !strings.Contains(string(msg), `"report_id":42`) {
			t.Fatalf("message = %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
