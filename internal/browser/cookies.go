package browser

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/browserutils/kooky"
	_ "github.com/browserutils/kooky/browser/all" // Import all browser support
)

type BrowserType string

const (
	BrowserNone    BrowserType = "none"
	BrowserAuto    BrowserType = "auto"
	BrowserChrome  BrowserType = "chrome"
	BrowserFirefox BrowserType = "firefox"
	BrowserSafari  BrowserType = "safari"
	BrowserZen     BrowserType = "zen"
)

// CookieExtractor copies login cookies out of the user's desktop browser so
// the automation profile starts signed in.
type CookieExtractor struct {
	browserType BrowserType
}

func NewCookieExtractor(browserType BrowserType) *CookieExtractor {
	if browserType == "" {
		browserType = BrowserNone
	}
	return &CookieExtractor{browserType: browserType}
}

// ExtractCookies returns the cookies of every domain in domains (subdomains
// included). In auto mode browsers are tried in order and the first that has
// any matching cookie wins.
func (ce *CookieExtractor) ExtractCookies(ctx context.Context, domains []string) ([]*http.Cookie, error) {
	if ce.browserType == BrowserNone || len(domains) == 0 {
		return nil, nil
	}

	if ce.browserType == BrowserAuto {
		for _, b := range []BrowserType{BrowserChrome, BrowserFirefox, BrowserZen, BrowserSafari} {
			if cookies, err := ce.extractFromBrowser(ctx, b, domains); err == nil && len(cookies) > 0 {
				return cookies, nil
			}
		}
		return nil, nil
	}

	return ce.extractFromBrowser(ctx, ce.browserType, domains)
}

func (ce *CookieExtractor) extractFromBrowser(ctx context.Context, browserType BrowserType, domains []string) ([]*http.Cookie, error) {
	var cookies []*http.Cookie

	for cookie, err := range kooky.TraverseCookies(ctx) {
		if err != nil {
			continue
		}
		if !matchesBrowserType(cookie.Browser, browserType) || !matchesAnyDomain(cookie.Domain, domains) {
			continue
		}
		cookies = append(cookies, &http.Cookie{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Path:     cookie.Path,
			Domain:   cookie.Domain,
			Expires:  cookie.Expires,
			Secure:   cookie.Secure,
			HttpOnly: cookie.HttpOnly,
		})
	}

	if err := ctx.Err(); err != nil {
		return cookies, err
	}
	return cookies, nil
}

func matchesBrowserType(browser kooky.BrowserInfo, browserType BrowserType) bool {
	if browser == nil {
		return false
	}
	if browserType == BrowserAuto {
		return true
	}

	browserName := strings.ToLower(browser.Browser())
	switch browserType {
	case BrowserChrome:
		return strings.Contains(browserName, "chrome") || strings.Contains(browserName, "chromium")
	case BrowserFirefox:
		return strings.Contains(browserName, "firefox")
	case BrowserSafari:
		return strings.Contains(browserName, "safari")
	case BrowserZen:
		return strings.Contains(browserName, "zen") ||
			(strings.Contains(browserName, "firefox") && strings.Contains(browser.FilePath(), "zen"))
	}

	return false
}

func matchesAnyDomain(cookieDomain string, domains []string) bool {
	for _, d := range domains {
		if matchesDomain(cookieDomain, d) {
			return true
		}
	}
	return false
}

func matchesDomain(cookieDomain, targetDomain string) bool {
	cookieDomain = strings.TrimPrefix(cookieDomain, ".")
	targetDomain = strings.TrimPrefix(targetDomain, ".")
	if cookieDomain == "" || targetDomain == "" {
		return false
	}

	// A cookie for a subdomain (chat.example.com) is wanted when the
	// configured domain is its parent (example.com), and vice versa.
	return cookieDomain == targetDomain ||
		strings.HasSuffix(cookieDomain, "."+targetDomain) ||
		strings.HasSuffix(targetDomain, "."+cookieDomain)
}

// LoadCookiesFile reads cookies from either a Netscape cookies.txt export or
// a single "name=value; name2=value2" header string. Header-style cookies have
// no domain of their own and are bound to defaultDomain.
func LoadCookiesFile(path, defaultDomain string) ([]*http.Cookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("browser: reading cookies file: %w", err)
	}
	return ParseCookies(string(data), defaultDomain), nil
}

// ParseCookies parses cookies.txt content or a cookie header string.
func ParseCookies(content, defaultDomain string) []*http.Cookie {
	if strings.Contains(content, "\t") {
		return parseNetscape(content)
	}
	return parseHeader(content, defaultDomain)
}

func parseNetscape(content string) []*http.Cookie {
	var cookies []*http.Cookie
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		httpOnly := false
		if strings.HasPrefix(line, "#HttpOnly_") {
			httpOnly = true
			line = strings.TrimPrefix(line, "#HttpOnly_")
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) < 7 {
			continue
		}
		c := &http.Cookie{
			Domain:   parts[0],
			Path:     parts[2],
			Secure:   strings.EqualFold(parts[3], "TRUE"),
			Name:     parts[5],
			Value:    parts[6],
			HttpOnly: httpOnly,
		}
		if exp, err := strconv.ParseInt(parts[4], 10, 64); err == nil && exp > 0 {
			c.Expires = time.Unix(exp, 0)
		}
		cookies = append(cookies, c)
	}
	return cookies
}

func parseHeader(content, domain string) []*http.Cookie {
	var cookies []*http.Cookie
	for _, pair := range strings.Split(content, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		cookies = append(cookies, &http.Cookie{
			Name:   name,
			Value:  strings.TrimSpace(value),
			Domain: domain,
			Path:   "/",
			Secure: true,
		})
	}
	return cookies
}
