// Package assistant drives the conversational AI surface: it uploads an
// export, sends the instruction, waits for the reply and reads it back.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/byteowlz/pinscrpr/internal/browser"
	"github.com/byteowlz/pinscrpr/internal/config"
	"github.com/byteowlz/pinscrpr/internal/metrics"
	"github.com/byteowlz/pinscrpr/internal/poll"
)

// ErrExtractionFailed is returned when neither the page nor the clipboard
// yields a usable reply.
var ErrExtractionFailed = errors.New("assistant: reply extraction failed")

const fileInputSelector = `input[type="file"]`

var (
	composer = browser.Criteria{Selectors: []string{
		"#prompt-textarea",
		`div[contenteditable="true"]`,
		"textarea",
	}}
	sendButton = browser.Criteria{Selectors: []string{
		`button[data-testid="send-button"]`,
		"#composer-submit-button",
		`button[aria-label*="Send"]`,
	}}
	busyIndicator = browser.Criteria{Selectors: []string{
		`button[data-testid="stop-button"]`,
		`button[aria-label*="Stop"]`,
		".result-streaming",
	}}
	newChatButton = browser.Criteria{Selectors: []string{
		`a[data-testid="create-new-chat-button"]`,
		`button[data-testid="create-new-chat-button"]`,
		`a[aria-label*="New chat"]`,
		`button[aria-label*="New chat"]`,
	}}
	copyButton = browser.Criteria{
		Selectors: []string{
			`button[data-testid="copy-turn-action-button"]`,
			`button[aria-label*="Copy"]`,
		},
		Last: true,
	}
	// Reply HTML is read from the first of these that exists.
	conversationRoots = []string{"main", "body"}
)

type Assistant struct {
	cfg         config.AssistantConfig
	instruction *Instruction
	rawLog      *RawLog
	clock       poll.Clock
	logger      zerolog.Logger
}

func New(cfg config.AssistantConfig, instruction *Instruction, clock poll.Clock, logger zerolog.Logger) *Assistant {
	if instruction == nil {
		instruction = DefaultInstruction()
	}
	if clock == nil {
		clock = poll.RealClock{}
	}
	return &Assistant{
		cfg:         cfg,
		instruction: instruction,
		rawLog:      NewRawLog(cfg.RawLogDir),
		clock:       clock,
		logger:      logger,
	}
}

// Open loads the assistant entry page, which starts a conversation.
func (a *Assistant) Open(ctx context.Context, s browser.Session) error {
	if err := s.Navigate(ctx, a.cfg.EntryURL, 0); err != nil {
		return fmt.Errorf("assistant: open %s: %w", a.cfg.EntryURL, err)
	}
	return nil
}

// NewConversation isolates the next keyword from everything said before. It
// clicks the new-chat control and falls back to reloading the entry page.
func (a *Assistant) NewConversation(ctx context.Context, s browser.Session) error {
	err := s.FindAndAct(ctx, newChatButton, browser.Click())
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	a.logger.Debug().Err(err).Msg("new chat control not found, reloading entry page")
	return a.Open(ctx, s)
}

// Analyze uploads fileRef, sends the instruction for keyword and returns the
// reply. The reply is written to the raw log before it is returned.
func (a *Assistant) Analyze(ctx context.Context, s browser.Session, keyword, fileRef string) (RawReply, error) {
	start := time.Now()
	defer metrics.ObserveStage("analyze", start)
	log := a.logger.With().Str("keyword", keyword).Logger()

	if fileRef != "" {
		if err := s.UploadFile(ctx, fileInputSelector, fileRef); err != nil {
			return RawReply{}, fmt.Errorf("assistant: upload %s: %w", fileRef, err)
		}
		if err := a.clock.Sleep(ctx, a.cfg.UploadSettle); err != nil {
			return RawReply{}, err
		}
	}

	msg, err := a.instruction.Render(keyword)
	if err != nil {
		return RawReply{}, err
	}
	if err := s.FindAndAct(ctx, composer, browser.Inject(msg)); err != nil {
		return RawReply{}, fmt.Errorf("assistant: writing instruction: %w", err)
	}
	if err := s.FindAndAct(ctx, sendButton, browser.Click()); err != nil {
		log.Debug().Err(err).Msg("send button not found, submitting with enter")
		if err := s.FindAndAct(ctx, composer, browser.PressEnter()); err != nil {
			return RawReply{}, fmt.Errorf("assistant: submitting instruction: %w", err)
		}
	}

	if err := a.waitForReply(ctx, s, log); err != nil {
		return RawReply{}, err
	}

	text, err := a.extract(ctx, s, log)
	if err != nil {
		return RawReply{}, err
	}

	reply := RawReply{Keyword: keyword, Text: text, CapturedAt: a.clock.Now()}
	path, err := a.rawLog.Write(reply)
	if err != nil {
		log.Error().Err(err).Msg("raw reply not logged")
	} else {
		reply.LogPath = path
		log.Debug().Str("path", path).Int("chars", len(text)).Msg("raw reply logged")
	}
	return reply, nil
}

// waitForReply polls for the busy indicator to disappear. Its absence only
// counts once MinSettle has passed since submission; the assistant often
// shows no indicator early on while still generating.
func (a *Assistant) waitForReply(ctx context.Context, s browser.Session, log zerolog.Logger) error {
	submitted := a.clock.Now()
	interval := a.cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	loop := poll.Loop{
		Interval:    interval,
		MaxAttempts: max(1, int(a.cfg.MaxWait/interval)),
	}

	check := func(ctx context.Context) (bool, error) {
		if a.clock.Now().Sub(submitted) < a.cfg.MinSettle {
			return false, nil
		}
		err := s.FindAndAct(ctx, busyIndicator, browser.Exists())
		switch {
		case errors.Is(err, browser.ErrNotFound):
			return true, nil
		case err == nil:
			return false, nil
		default:
			return false, err
		}
	}

	out, err := loop.Run(ctx, a.clock, check, nil)
	if err != nil {
		return err
	}
	if out.State == poll.TimedOutSoft {
		log.Warn().
			Dur("max_wait", a.cfg.MaxWait).
			AnErr("last_err", out.LastErr).
			Msg("assistant still busy at max wait, reading reply anyway")
	}
	return nil
}

func (a *Assistant) extract(ctx context.Context, s browser.Session, log zerolog.Logger) (string, error) {
	text := a.readDOM(ctx, s, log)
	if len(text) >= a.cfg.MinReplyChars {
		return text, nil
	}
	log.Info().Int("chars", len(text)).Msg("reply too short on page, trying clipboard")

	best := text
	attempts := max(1, a.cfg.ClipboardAttempts)
	for attempt := 1; attempt <= attempts; attempt++ {
		clip, err := a.readClipboard(ctx, s)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Msg("clipboard read failed")
		}
		if len(clip) > len(best) {
			best = clip
		}
		if len(best) >= a.cfg.MinReplyChars {
			return best, nil
		}
		if attempt < attempts {
			if err := a.clock.Sleep(ctx, a.cfg.ClipboardBackoff); err != nil {
				return "", err
			}
		}
	}

	log.Warn().Int("chars", len(best)).Int("attempts", attempts).Msg("reply extraction failed")
	return "", fmt.Errorf("%w: %d characters after %d clipboard attempts", ErrExtractionFailed, len(best), attempts)
}

func (a *Assistant) readDOM(ctx context.Context, s browser.Session, log zerolog.Logger) string {
	for _, root := range conversationRoots {
		page, err := s.OuterHTML(ctx, root)
		if err != nil {
			log.Debug().Err(err).Str("selector", root).Msg("reading page html failed")
			continue
		}
		text, err := ExtractReply(page)
		if err != nil {
			log.Debug().Err(err).Msg("parsing page html failed")
			continue
		}
		if text != "" {
			return text
		}
	}
	return ""
}

func (a *Assistant) readClipboard(ctx context.Context, s browser.Session) (string, error) {
	if err := s.FindAndAct(ctx, copyButton, browser.Click()); err != nil {
		return "", err
	}
	clip, err := s.ReadClipboard(ctx)
	return strings.TrimSpace(clip), err
}
