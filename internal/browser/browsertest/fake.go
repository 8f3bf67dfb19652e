// Package browsertest provides scriptable in-memory browser sessions for
// testing code that drives a browser.Session.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/byteowlz/pinscrpr/internal/browser"
)

// Call is one recorded session operation.
type Call struct {
	Op  string
	Arg string
}

func (c Call) String() string {
	if c.Arg == "" {
		return c.Op
	}
	return c.Op + " " + c.Arg
}

// Session is a fake browser.Session. Unset hooks succeed with zero values.
type Session struct {
	Dir string

	NavigateFunc  func(url string) error
	ActFunc       func(c browser.Criteria, a browser.Action) error
	UploadFunc    func(selector, path string) error
	HTMLFunc      func(selector string) (string, error)
	EvalFunc      func(js string, out any) error
	ClipboardFunc func() (string, error)
	CloseErr      error

	mu     sync.Mutex
	calls  []Call
	closed bool
}

var _ browser.Session = (*Session)(nil)

func (s *Session) record(op, arg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: op, Arg: arg})
}

// Calls returns a copy of the recorded operations.
func (s *Session) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Count returns how many recorded calls have op and an arg containing sub.
func (s *Session) Count(op, sub string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Op == op && strings.Contains(c.Arg, sub) {
			n++
		}
	}
	return n
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	s.record("navigate", url)
	if s.NavigateFunc != nil {
		return s.NavigateFunc(url)
	}
	return ctx.Err()
}

func (s *Session) Reload(ctx context.Context, timeout time.Duration) error {
	s.record("reload", "")
	return ctx.Err()
}

func (s *Session) FindAndAct(ctx context.Context, c browser.Criteria, a browser.Action) error {
	arg := a.Kind.String()
	if c.Text != "" {
		arg += " text=" + c.Text
	}
	arg += " " + strings.Join(c.Selectors, ",")
	if a.Value != "" {
		arg += " value=" + a.Value
	}
	s.record("act", arg)
	if s.ActFunc != nil {
		return s.ActFunc(c, a)
	}
	return ctx.Err()
}

func (s *Session) UploadFile(ctx context.Context, selector, path string) error {
	s.record("upload", path)
	if s.UploadFunc != nil {
		return s.UploadFunc(selector, path)
	}
	return nil
}

func (s *Session) OuterHTML(ctx context.Context, selector string) (string, error) {
	s.record("html", selector)
	if s.HTMLFunc != nil {
		return s.HTMLFunc(selector)
	}
	return "", nil
}

func (s *Session) Evaluate(ctx context.Context, js string, out any) error {
	s.record("eval", "")
	if s.EvalFunc != nil {
		return s.EvalFunc(js, out)
	}
	return nil
}

func (s *Session) ReadClipboard(ctx context.Context) (string, error) {
	s.record("clipboard", "")
	if s.ClipboardFunc != nil {
		return s.ClipboardFunc()
	}
	return "", nil
}

func (s *Session) DownloadDir() string { return s.Dir }

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.record("close", "")
	return s.CloseErr
}

// Launcher hands out sessions built by New, numbering launches from 1.
type Launcher struct {
	New func(n int) (*Session, error)

	mu       sync.Mutex
	sessions []*Session
	launches int
}

var _ browser.Launcher = (*Launcher)(nil)

func (l *Launcher) Launch(ctx context.Context) (browser.Session, error) {
	l.mu.Lock()
	l.launches++
	n := l.launches
	l.mu.Unlock()

	if l.New == nil {
		s := &Session{}
		l.track(s)
		return s, nil
	}
	s, err := l.New(n)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("browsertest: launch %d returned no session", n)
	}
	l.track(s)
	return s, nil
}

func (l *Launcher) track(s *Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions = append(l.sessions, s)
}

// Launches reports how many times Launch was called.
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// Sessions returns every session successfully launched so far.
func (l *Launcher) Sessions() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Session(nil), l.sessions...)
}
