package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDriverTimeout is returned when a navigation or element wait runs past its deadline.
	// Callers treat it as recoverable.
	ErrDriverTimeout = errors.New("browser: driver timeout")
	// ErrNotFound is returned by the Exists action when no element matches.
	ErrNotFound = errors.New("browser: element not found")
)

// Criteria selects a page element. The first visible element matching any of
// Selectors (and containing Text, case-insensitively, when set) is used. Text
// is also compared against aria-label so icon-only buttons can be matched.
type Criteria struct {
	Selectors []string
	Text      string
	// Last picks the last match in document order instead of the first.
	Last bool
}

type ActionKind int

const (
	ActionClick ActionKind = iota
	ActionClear
	ActionFill
	ActionInject
	ActionPressEnter
	ActionExists
)

func (k ActionKind) String() string {
	switch k {
	case ActionClick:
		return "click"
	case ActionClear:
		return "clear"
	case ActionFill:
		return "fill"
	case ActionInject:
		return "inject"
	case ActionPressEnter:
		return "press-enter"
	case ActionExists:
		return "exists"
	}
	return "unknown"
}

type Action struct {
	Kind  ActionKind
	Value string
}

func Click() Action      { return Action{Kind: ActionClick} }
func Clear() Action      { return Action{Kind: ActionClear} }
func PressEnter() Action { return Action{Kind: ActionPressEnter} }
func Exists() Action     { return Action{Kind: ActionExists} }

// Fill types value into the element after clearing it.
func Fill(value string) Action { return Action{Kind: ActionFill, Value: value} }

// Inject sets value programmatically and fires an input event, without keystrokes.
func Inject(value string) Action { return Action{Kind: ActionInject, Value: value} }

// Session is a single controllable browser bound to one profile directory.
// A session is driven strictly sequentially.
type Session interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Reload(ctx context.Context, timeout time.Duration) error
	FindAndAct(ctx context.Context, c Criteria, a Action) error
	UploadFile(ctx context.Context, selector, path string) error
	OuterHTML(ctx context.Context, selector string) (string, error)
	Evaluate(ctx context.Context, js string, out any) error
	// ReadClipboard returns "" when the clipboard is empty or unreadable.
	ReadClipboard(ctx context.Context) (string, error)
	// DownloadDir is where the browser saves downloads.
	DownloadDir() string
	Close() error
}

type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}
