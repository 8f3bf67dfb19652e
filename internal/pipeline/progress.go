package pipeline

import (
	"sync"
	"time"
)

type Phase string

const (
	PhaseDownload Phase = "download"
	PhaseAnalyze  Phase = "analyze"
)

const (
	StatusStarting    = "starting"
	StatusDownloading = "downloading"
	StatusLoading     = "loading"
	StatusRefreshing  = "refreshing"
	StatusExporting   = "exporting"
	StatusAnalyzing   = "analyzing"
	StatusRetrying    = "retrying"
	StatusFallback    = "fallback"
	StatusComplete    = "complete"
	StatusError       = "error"
)

// Event is one progress notification.
type Event struct {
	RunID   string    `json:"run_id"`
	Phase   Phase     `json:"phase"`
	Status  string    `json:"status"`
	Keyword string    `json:"keyword,omitempty"`
	Current int       `json:"current"`
	Total   int       `json:"total"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

type ProgressFunc func(Event)

// Fanout delivers each event to every non-nil sink in order.
func Fanout(sinks ...ProgressFunc) ProgressFunc {
	return func(e Event) {
		for _, sink := range sinks {
			if sink != nil {
				sink(e)
			}
		}
	}
}

// Snapshot summarises a run for status endpoints.
type Snapshot struct {
	RunID     string    `json:"run_id"`
	Phase     Phase     `json:"phase"`
	Status    string    `json:"status"`
	Keyword   string    `json:"keyword,omitempty"`
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	Message   string    `json:"message,omitempty"`
	Completed int       `json:"completed"`
	Fallbacks int       `json:"fallbacks"`
	Errors    int       `json:"errors"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker keeps the latest state of the current run.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) Observe(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e.RunID != t.snap.RunID {
		t.snap = Snapshot{RunID: e.RunID}
	}
	t.snap.Phase = e.Phase
	t.snap.Status = e.Status
	t.snap.Keyword = e.Keyword
	t.snap.Current = e.Current
	t.snap.Total = e.Total
	t.snap.Message = e.Message
	t.snap.UpdatedAt = e.Time

	if e.Phase == PhaseAnalyze && e.Keyword != "" {
		switch e.Status {
		case StatusComplete:
			t.snap.Completed++
		case StatusFallback:
			t.snap.Fallbacks++
		case StatusError:
			t.snap.Errors++
		}
	}
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}
