package assistant

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	rawLogTimeFormat = "20060102-150405"
	maxSlugLen       = 60
)

var slugStripRe = regexp.MustCompile(`[^a-z0-9]+`)

// RawReply is the unprocessed assistant output for one keyword.
type RawReply struct {
	Keyword    string
	Text       string
	CapturedAt time.Time
	// LogPath is the audit file the reply was written to, if any.
	LogPath string
}

// RawLog writes every captured reply to its own file before parsing.
type RawLog struct {
	dir string
}

func NewRawLog(dir string) *RawLog {
	return &RawLog{dir: dir}
}

// Write creates <dir>/<YYYYMMDD-HHMMSS>_<slug>.txt. Existing files are never
// overwritten; a numeric suffix is added instead.
func (l *RawLog) Write(r RawReply) (string, error) {
	if l == nil || l.dir == "" {
		return "", errors.New("assistant: raw log directory not set")
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", fmt.Errorf("assistant: creating raw log directory: %w", err)
	}

	base := fmt.Sprintf("%s_%s", r.CapturedAt.Format(rawLogTimeFormat), slug(r.Keyword))
	for n := 1; ; n++ {
		name := base + ".txt"
		if n > 1 {
			name = fmt.Sprintf("%s_%d.txt", base, n)
		}
		path := filepath.Join(l.dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("assistant: creating raw log: %w", err)
		}

		_, werr := fmt.Fprintf(f, "keyword: %s\ncaptured_at: %s\n\n%s\n", r.Keyword, r.CapturedAt.Format(time.RFC3339), r.Text)
		cerr := f.Close()
		if werr != nil {
			return "", fmt.Errorf("assistant: writing raw log: %w", werr)
		}
		if cerr != nil {
			return "", fmt.Errorf("assistant: closing raw log: %w", cerr)
		}
		return path, nil
	}
}

// ReadRawLog loads a file written by Write. Files without the header are
// returned as plain text.
func ReadRawLog(r io.Reader) (RawReply, error) {
	br := bufio.NewReader(r)
	var reply RawReply
	var body strings.Builder
	inHeader := true

	for {
		line, err := br.ReadString('\n')
		if inHeader {
			trimmed := strings.TrimRight(line, "\r\n")
			switch {
			case strings.HasPrefix(trimmed, "keyword: "):
				reply.Keyword = strings.TrimPrefix(trimmed, "keyword: ")
			case strings.HasPrefix(trimmed, "captured_at: "):
				if t, perr := time.Parse(time.RFC3339, strings.TrimPrefix(trimmed, "captured_at: ")); perr == nil {
					reply.CapturedAt = t
				}
			case trimmed == "" && reply.Keyword != "":
				inHeader = false
			default:
				inHeader = false
				body.WriteString(line)
			}
		} else {
			body.WriteString(line)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return RawReply{}, fmt.Errorf("assistant: reading raw log: %w", err)
		}
	}

	reply.Text = strings.TrimRight(body.String(), "\n")
	return reply, nil
}

func slug(keyword string) string {
	s := strings.Trim(slugStripRe.ReplaceAllString(strings.ToLower(keyword), "-"), "-")
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	if s == "" {
		return "keyword"
	}
	return s
}
