package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/byteowlz/pinscrpr/internal/parser"
	"github.com/byteowlz/pinscrpr/internal/pipeline"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	sent    []message
	err     error
	drained bool
}

func (c *fakeConn) Publish(subj string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, message{subject: subj, data: data})
	return nil
}

func (c *fakeConn) Drain() error {
	c.drained = true
	return nil
}

func TestPublisherProgress(t *testing.T) {
	conn := &fakeConn{}
	p := newPublisher(conn, "", zerolog.Nop())

	p.Progress(pipeline.Event{
		RunID:   "run-1",
		Phase:   pipeline.PhaseDownload,
		Status:  pipeline.StatusLoading,
		Keyword: "garlic shrimp",
		Current: 2,
		Total:   7,
		Time:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})

	if len(conn.sent) != 1 || conn.sent[0].subject != DefaultSubject {
		t.Fatalf("sent = %+v", conn.sent)
	}
	e, ok := decodeEvent(conn.sent[0].data)
	if !ok {
		t.Fatalf("undecodable payload %s", conn.sent[0].data)
	}
	if e.Keyword != "garlic shrimp" || e.Status != pipeline.StatusLoading || e.Current != 2 || e.Total != 7 {
		t.Errorf("event = %+v", e)
	}
}

func TestPublisherResult(t *testing.T) {
	conn := &fakeConn{}
	p := newPublisher(conn, "seo", zerolog.Nop())

	p.Result("run-1", pipeline.AnalysisResult{Keyword: "k", Source: parser.SourceFallback, Success: true})

	if len(conn.sent) != 1 || conn.sent[0].subject != "seo.results" {
		t.Fatalf("sent = %+v", conn.sent)
	}
	var got map[string]any
	if err := json.Unmarshal(conn.sent[0].data, &got); err != nil {
		t.Fatal(err)
	}
	if got["run_id"] != "run-1" || got["keyword"] != "k" || got["source"] != "openai-fallback" {
		t.Errorf("payload = %v", got)
	}
}

func TestPublisherSwallowsErrors(t *testing.T) {
	conn := &fakeConn{err: errors.New("nats: connection closed")}
	p := newPublisher(conn, "", zerolog.Nop())
	p.Progress(pipeline.Event{Status: pipeline.StatusStarting})

	if err := p.Close(); err != nil || !conn.drained {
		t.Errorf("Close = %v, drained = %v", err, conn.drained)
	}
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		data string
		ok   bool
	}{
		{`{"run_id":"r","phase":"analyze","status":"complete","current":1,"total":1,"time":"2026-03-01T12:00:00Z"}`, true},
		{`{"run_id":"r"}`, false},
		{`not json`, false},
	}
	for _, tt := range tests {
		if _, ok := decodeEvent([]byte(tt.data)); ok != tt.ok {
			t.Errorf("decodeEvent(%s) ok = %v, want %v", tt.data, ok, tt.ok)
		}
	}
}
