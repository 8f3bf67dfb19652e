package browser

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

type UserAgentType string

const (
	UserAgentAuto    UserAgentType = "auto"
	UserAgentChrome  UserAgentType = "chrome"
	UserAgentFirefox UserAgentType = "firefox"
	UserAgentSafari  UserAgentType = "safari"
	UserAgentEdge    UserAgentType = "edge"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"

// Only Chromium-family strings: the automated browser is always Chrome, and a
// Gecko user agent on a Blink engine trips bot checks on the assistant site.
// firefox and safari map to desktop Chrome strings for the matching OS.
var userAgents = map[UserAgentType][]string{
	UserAgentChrome: {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
		defaultUserAgent,
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36",
	},
	UserAgentFirefox: {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
		defaultUserAgent,
	},
	UserAgentSafari: {
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
	},
	UserAgentEdge: {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36 Edg/138.0.0.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36 Edg/138.0.0.0",
	},
}

type UserAgentSelector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewUserAgentSelector() *UserAgentSelector {
	return &UserAgentSelector{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Resolve picks the user agent for a launch: an explicit custom string wins,
// otherwise one is drawn for the configured agent family.
func (uas *UserAgentSelector) Resolve(custom, family string) string {
	if custom = strings.TrimSpace(custom); custom != "" {
		return custom
	}
	return uas.GetUserAgent(family)
}

// GetUserAgent returns a user agent for uaType. Unknown values are treated as
// literal user agent strings.
func (uas *UserAgentSelector) GetUserAgent(uaType string) string {
	normalized := strings.ToLower(strings.TrimSpace(uaType))
	if normalized == "" {
		normalized = string(UserAgentAuto)
	}

	switch UserAgentType(normalized) {
	case UserAgentAuto:
		return uas.pick(uas.all())
	case UserAgentChrome, UserAgentFirefox, UserAgentSafari, UserAgentEdge:
		return uas.pick(userAgents[UserAgentType(normalized)])
	default:
		return strings.TrimSpace(uaType)
	}
}

func (uas *UserAgentSelector) all() []string {
	var all []string
	for _, t := range []UserAgentType{UserAgentChrome, UserAgentFirefox, UserAgentSafari, UserAgentEdge} {
		all = append(all, userAgents[t]...)
	}
	return all
}

func (uas *UserAgentSelector) pick(agents []string) string {
	if len(agents) == 0 {
		return defaultUserAgent
	}
	uas.mu.Lock()
	defer uas.mu.Unlock()
	return agents[uas.rng.Intn(len(agents))]
}
