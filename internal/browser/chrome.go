package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/rs/zerolog"
)

const (
	targetAttr     = "data-pinscrpr-target"
	targetSelector = `[data-pinscrpr-target="1"]`
	findInterval   = 250 * time.Millisecond
)

type LaunchOptions struct {
	ProfileDir     string
	DownloadDir    string
	ExecPath       string
	UserAgent      string
	BrowserAgent   string
	Headless       bool
	NavTimeout     time.Duration
	ElementTimeout time.Duration
	// Cookies are injected into every launched session before first navigation.
	Cookies []*http.Cookie
}

// ChromeLauncher starts Chrome through chromedp against a persistent profile.
type ChromeLauncher struct {
	opts   LaunchOptions
	uas    *UserAgentSelector
	logger zerolog.Logger
}

var _ Launcher = (*ChromeLauncher)(nil)

func NewChromeLauncher(opts LaunchOptions, logger zerolog.Logger) *ChromeLauncher {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 60 * time.Second
	}
	if opts.ElementTimeout <= 0 {
		opts.ElementTimeout = 15 * time.Second
	}
	return &ChromeLauncher{
		opts:   opts,
		uas:    NewUserAgentSelector(),
		logger: logger.With().Str("component", "browser").Logger(),
	}
}

func (l *ChromeLauncher) Launch(ctx context.Context) (Session, error) {
	CleanProfileLocks(l.opts.ProfileDir, l.logger)

	for _, dir := range []string{l.opts.ProfileDir, l.opts.DownloadDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("browser: creating %s: %w", dir, err)
		}
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(l.opts.ProfileDir),
		chromedp.Flag("headless", l.opts.Headless),
		chromedp.Flag("disable-gpu", l.opts.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1440, 900),
		chromedp.UserAgent(l.uas.Resolve(l.opts.UserAgent, l.opts.BrowserAgent)),
	)
	if l.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(l.opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			l.logger.Debug().Msgf(format, args...)
		}),
	)

	setup := []chromedp.Action{
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(l.opts.DownloadDir).
			WithEventsEnabled(true),
		cdpbrowser.GrantPermissions([]cdpbrowser.PermissionType{
			cdpbrowser.PermissionTypeClipboardReadWrite,
			cdpbrowser.PermissionTypeClipboardSanitizedWrite,
		}),
	}
	if params := cookieParams(l.opts.Cookies); len(params) > 0 {
		setup = append(setup, network.SetCookies(params))
	}

	if err := chromedp.Run(tabCtx, setup...); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("browser: launching chrome: %w", err)
	}

	l.logger.Info().
		Str("profile", l.opts.ProfileDir).
		Bool("headless", l.opts.Headless).
		Int("cookies", len(l.opts.Cookies)).
		Msg("browser launched")

	return &chromeSession{
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		opts:        l.opts,
		logger:      l.logger,
	}, nil
}

func cookieParams(cookies []*http.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" || c.Domain == "" {
			continue
		}
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		if p.Path == "" {
			p.Path = "/"
		}
		if !c.Expires.IsZero() {
			exp := cdp.TimeSinceEpoch(c.Expires)
			p.Expires = &exp
		}
		params = append(params, p)
	}
	return params
}

type chromeSession struct {
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	opts        LaunchOptions
	logger      zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ Session = (*chromeSession)(nil)

// derive returns a context bound to the tab that also ends when ctx does.
func (s *chromeSession) derive(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(s.tabCtx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func timeoutErr(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %s", ErrDriverTimeout, op)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("browser: %s: %w", op, err)
}

func (s *chromeSession) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.opts.NavTimeout
	}
	runCtx, cancel := s.derive(ctx, timeout)
	defer cancel()

	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	return timeoutErr(ctx, "navigate "+url, err)
}

func (s *chromeSession) Reload(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.opts.NavTimeout
	}
	runCtx, cancel := s.derive(ctx, timeout)
	defer cancel()

	err := chromedp.Run(runCtx,
		chromedp.Reload(),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	return timeoutErr(ctx, "reload", err)
}

func (s *chromeSession) FindAndAct(ctx context.Context, c Criteria, a Action) error {
	script, err := findScript(c)
	if err != nil {
		return err
	}

	if a.Kind == ActionExists {
		runCtx, cancel := s.derive(ctx, s.opts.ElementTimeout)
		defer cancel()
		var found bool
		if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &found)); err != nil {
			return timeoutErr(ctx, "exists", err)
		}
		if !found {
			return ErrNotFound
		}
		return nil
	}

	runCtx, cancel := s.derive(ctx, s.opts.ElementTimeout)
	defer cancel()

	if err := s.waitFor(runCtx, script); err != nil {
		return timeoutErr(ctx, fmt.Sprintf("%s %v", a.Kind, c.Selectors), err)
	}

	var actions []chromedp.Action
	switch a.Kind {
	case ActionClick:
		actions = append(actions, chromedp.Evaluate(elementScript(`el.scrollIntoView({block: "center"}); el.click();`), nil))
	case ActionClear:
		actions = append(actions, chromedp.Evaluate(injectScript(""), nil))
	case ActionInject:
		actions = append(actions, chromedp.Evaluate(injectScript(a.Value), nil))
	case ActionFill:
		actions = append(actions,
			chromedp.Evaluate(injectScript(""), nil),
			chromedp.SendKeys(targetSelector, a.Value, chromedp.ByQuery),
		)
	case ActionPressEnter:
		actions = append(actions,
			chromedp.Focus(targetSelector, chromedp.ByQuery),
			chromedp.KeyEvent(kb.Enter),
		)
	default:
		return fmt.Errorf("browser: unsupported action %d", a.Kind)
	}

	return timeoutErr(ctx, a.Kind.String(), chromedp.Run(runCtx, actions...))
}

// waitFor evaluates script until it reports a match or runCtx ends.
func (s *chromeSession) waitFor(runCtx context.Context, script string) error {
	ticker := time.NewTicker(findInterval)
	defer ticker.Stop()

	for {
		var found bool
		if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &found)); err != nil {
			return err
		}
		if found {
			return nil
		}
		select {
		case <-runCtx.Done():
			return runCtx.Err()
		case <-ticker.C:
		}
	}
}

func (s *chromeSession) UploadFile(ctx context.Context, selector, path string) error {
	runCtx, cancel := s.derive(ctx, s.opts.ElementTimeout)
	defer cancel()

	err := chromedp.Run(runCtx, chromedp.SetUploadFiles(selector, []string{path}, chromedp.ByQuery))
	return timeoutErr(ctx, "upload "+selector, err)
}

func (s *chromeSession) OuterHTML(ctx context.Context, selector string) (string, error) {
	runCtx, cancel := s.derive(ctx, s.opts.ElementTimeout)
	defer cancel()

	var html string
	err := chromedp.Run(runCtx, chromedp.OuterHTML(selector, &html, chromedp.ByQuery))
	return html, timeoutErr(ctx, "outer html "+selector, err)
}

func (s *chromeSession) Evaluate(ctx context.Context, js string, out any) error {
	runCtx, cancel := s.derive(ctx, s.opts.ElementTimeout)
	defer cancel()

	return timeoutErr(ctx, "evaluate", chromedp.Run(runCtx, chromedp.Evaluate(js, out, awaitPromise)))
}

func (s *chromeSession) ReadClipboard(ctx context.Context) (string, error) {
	runCtx, cancel := s.derive(ctx, s.opts.ElementTimeout)
	defer cancel()

	var text string
	err := chromedp.Run(runCtx, chromedp.Evaluate(`window.focus(); navigator.clipboard.readText()`, &text, awaitPromise))
	if err != nil {
		return "", timeoutErr(ctx, "read clipboard", err)
	}
	return text, nil
}

func (s *chromeSession) DownloadDir() string {
	return s.opts.DownloadDir
}

// Close shuts the browser down. When the graceful path fails every page is
// closed individually before the browser itself.
func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		if err := chromedp.Cancel(s.tabCtx); err != nil {
			s.logger.Warn().Err(err).Msg("graceful browser close failed, closing pages")
			s.forceClose()
			s.closeErr = fmt.Errorf("browser: close: %w", err)
		}
		s.tabCancel()
		s.allocCancel()
		s.logger.Debug().Msg("browser closed")
	})
	return s.closeErr
}

func (s *chromeSession) forceClose() {
	c := chromedp.FromContext(s.tabCtx)
	if c == nil || c.Browser == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.tabCtx), 5*time.Second)
	defer cancel()
	exec := cdp.WithExecutor(ctx, c.Browser)

	infos, err := chromedp.Targets(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("listing targets for forced close")
	}
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		if err := target.CloseTarget(info.TargetID).Do(exec); err != nil {
			s.logger.Warn().Err(err).Str("target", string(info.TargetID)).Msg("closing page")
		}
	}
	if err := cdpbrowser.Close().Do(exec); err != nil {
		s.logger.Warn().Err(err).Msg("closing browser")
	}
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// findScript builds JS that marks the element selected by c with targetAttr
// and evaluates to whether one was found.
func findScript(c Criteria) (string, error) {
	if len(c.Selectors) == 0 {
		return "", errors.New("browser: criteria without selectors")
	}
	selectors, err := json.Marshal(c.Selectors)
	if err != nil {
		return "", fmt.Errorf("browser: encoding selectors: %w", err)
	}
	text, err := json.Marshal(c.Text)
	if err != nil {
		return "", fmt.Errorf("browser: encoding text: %w", err)
	}

	return fmt.Sprintf(`(() => {
  document.querySelectorAll('[%[1]s]').forEach(e => e.removeAttribute('%[1]s'));
  const selectors = %[2]s;
  const text = %[3]s.toLowerCase();
  const last = %[4]t;
  const visible = el => !!(el.offsetParent || el.getClientRects().length || el.type === 'file');
  let found = [];
  for (const sel of selectors) {
    let nodes;
    try { nodes = document.querySelectorAll(sel); } catch (e) { continue; }
    for (const el of nodes) {
      if (!visible(el)) continue;
      if (text) {
        const hay = ((el.innerText || el.textContent || '') + ' ' + (el.getAttribute('aria-label') || '') + ' ' + (el.getAttribute('title') || '')).toLowerCase();
        if (!hay.includes(text)) continue;
      }
      found.push(el);
    }
    if (found.length) break;
  }
  if (!found.length) return false;
  const el = last ? found[found.length - 1] : found[0];
  el.setAttribute('%[1]s', '1');
  return true;
})()`, targetAttr, selectors, text, c.Last), nil
}

func elementScript(body string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector('%s');
  if (!el) return false;
  %s
  return true;
})()`, targetSelector, body)
}

// injectScript sets the marked element's value through the native setter so
// framework-controlled inputs observe the change.
func injectScript(value string) string {
	encoded, _ := json.Marshal(value)
	return elementScript(fmt.Sprintf(`const value = %s;
  el.focus();
  if (el.isContentEditable) {
    el.innerText = value;
  } else {
    const proto = el.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
    Object.getOwnPropertyDescriptor(proto, 'value').set.call(el, value);
  }
  el.dispatchEvent(new Event('input', {bubbles: true}));`, encoded))
}
