// Package events mirrors pipeline progress and results onto NATS subjects.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/byteowlz/pinscrpr/internal/pipeline"
)

const DefaultSubject = "pinscrpr.progress"

// publisher is the subset of *nats.Conn the Publisher uses.
type publisher interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// ResultMessage is published on <subject>.results once per keyword.
type ResultMessage struct {
	RunID string `json:"run_id"`
	pipeline.AnalysisResult
}

// Publisher sends JSON events. Publish failures are logged and never
// interrupt the run.
type Publisher struct {
	conn    publisher
	subject string
	logger  zerolog.Logger
}

func connect(url string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("pinscrpr"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

func Connect(url, subject string, logger zerolog.Logger) (*Publisher, error) {
	nc, err := connect(url)
	if err != nil {
		return nil, err
	}
	return newPublisher(nc, subject, logger), nil
}

func newPublisher(conn publisher, subject string, logger zerolog.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: conn, subject: subject, logger: logger}
}

func (p *Publisher) Subject() string { return p.subject }

// Progress is a pipeline.ProgressFunc.
func (p *Publisher) Progress(e pipeline.Event) {
	p.publish(p.subject, e)
}

func (p *Publisher) Result(runID string, r pipeline.AnalysisResult) {
	p.publish(p.subject+".results", ResultMessage{RunID: runID, AnalysisResult: r})
}

func (p *Publisher) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Warn().Err(err).Str("subject", subject).Msg("encoding event")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn().Err(err).Str("subject", subject).Msg("publishing event")
	}
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}

// Watch subscribes to progress events on subject and calls handler for
// each until ctx is done. Undecodable messages are skipped.
func Watch(ctx context.Context, url, subject string, handler func(pipeline.Event)) error {
	nc, err := connect(url)
	if err != nil {
		return err
	}
	defer nc.Close()

	if subject == "" {
		subject = DefaultSubject
	}
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		if e, ok := decodeEvent(msg.Data); ok {
			handler(e)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	<-ctx.Done()
	_ = sub.Drain()
	return nil
}

func decodeEvent(data []byte) (pipeline.Event, bool) {
	var e pipeline.Event
	if err := json.Unmarshal(data, &e); err != nil || e.Status == "" {
		return pipeline.Event{}, false
	}
	return e, true
}
