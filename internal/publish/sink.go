// Package publish delivers reports to their destinations.
package publish

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/breeze-rmm/netmetrics/internal/httputil"
	"github.com/breeze-rmm/netmetrics/internal/logging"
	"github.com/breeze-rmm/netmetrics/internal/report"
	"github.com/breeze-rmm/netmetrics/internal/websocket"
)

// Sink is one report destination. Publish may be called from several
// goroutines.
type Sink interface {
	Name() string
	Publish(ctx context.Context, r *report.Report) error
}

// Closer is implemented by sinks that hold a connection.
type Closer interface {
	Close() error
}

// WriterSink encodes reports to an io.Writer, one document per report.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	format report.Format
}

func NewWriterSink(w io.Writer, format report.Format) *WriterSink {
	return &WriterSink{w: w, format: format}
}

func (s *WriterSink) Name() string { return "writer" }

func (s *WriterSink) Publish(_ context.Context, r *report.Report) error {
	var buf bytes.Buffer
	if err := report.Encode(&buf, r, s.format); err != nil {
		return err
	}
	if s.format == report.FormatYAML {
		buf.WriteString("---\n")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(buf.Bytes())
	return err
}

// HTTPSink POSTs the JSON report to a collector URL.
type HTTPSink struct {
	url    string
	token  string
	client *http.Client
	policy httputil.RetryPolicy
}

func NewHTTPSink(url, token string) *HTTPSink {
	return &HTTPSink{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
		policy: httputil.DefaultRetryPolicy(),
	}
}

func (s *HTTPSink) Name() string { return "http" }

func (s *HTTPSink) Publish(ctx context.Context, r *report.Report) error {
	body, err := report.Marshal(r)
	if err != nil {
		return err
	}
	headers := http.Header{"Content-Type": {"application/json"}}
	if s.token != "" {
		headers.Set("Authorization", "Bearer "+s.token)
	}
	start := time.Now()
	if err := httputil.Post(ctx, s.client, s.url, body, headers, s.policy); err != nil {
		return err
	}
	logging.FromContext(ctx).Debug("report posted",
		logging.KeySink, s.Name(),
		logging.KeyReportID, r.Header.ReportID,
		logging.KeyDurationMs, time.Since(start).Milliseconds(),
	)
	return nil
}

// WebSocketSink streams JSON reports over a long-lived connection.
type WebSocketSink struct {
	client *websocket.Client
}

func NewWebSocketSink(url, token string) *WebSocketSink {
	return &WebSocketSink{client: websocket.New(websocket.Config{URL: url, AuthToken: token})}
}

func (s *WebSocketSink) Name() string { return "websocket" }

func (s *WebSocketSink) Publish(ctx context.Context, r *report.Report) error {
	body, err := report.Marshal(r)
	if err != nil {
		return err
	}
	return s.client.Send(ctx, body)
}

func (s *WebSocketSink) Close() error {
	return s.client.Close()
}
