package browser

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	textPostRe  = regexp.MustCompile(`/comments/text/(\d+)`)
	imagePostRe = regexp.MustCompile(`/comments/image/(\d+)`)
	replyFragRe = regexp.MustCompile(`(/\d+)?/#reply$`)
)

// CleanURL canonicalizes a post reference: rebuilt from the post ID when one
// is present, otherwise stripped of reply fragments and trailing slashes.
func CleanURL(base, raw string) string {
	if raw == "" {
		return ""
	}
	raw = strings.TrimSpace(raw)

	if m := textPostRe.FindStringSubmatch(raw); m != nil {
		return base + "/comments/text/" + m[1]
	}
	if m := imagePostRe.FindStringSubmatch(raw); m != nil {
		return base + "/comments/image/" + m[1]
	}
	raw = replyFragRe.ReplaceAllString(raw, "")
	return strings.TrimRight(raw, "/")
}

// IsPostURL reports whether raw points at an actionable post on the ledger
// host.
func IsPostURL(base, raw string) bool {
	if raw == "" || !strings.Contains(raw, hostOf(base)) {
		return false
	}
	return strings.Contains(raw, "/comments/text/") ||
		strings.Contains(raw, "/comments/image/") ||
		strings.Contains(raw, "/content/")
}

func hostOf(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return base
	}
	return u.Host
}

// escapeNick makes a nickname safe for a path segment. Literal plus signs
// are significant in nicknames and must survive.
func escapeNick(nick string) string {
	escaped := url.QueryEscape(strings.TrimSpace(nick))
	return strings.ReplaceAll(escaped, "%2B", "+")
}

// profileURL returns the profile page of a nickname.
func profileURL(base, nick string) string {
	return base + "/users/" + escapeNick(nick) + "/"
}

// listingURL returns the first public-listing page of a nickname.
func listingURL(base, nick string) string {
	return base + "/profile/public/" + escapeNick(nick) + "/"
}

// conversationURL returns the fallback inbox thread URL for a nickname.
func conversationURL(base, nick string) string {
	return base + "/inbox/" + escapeNick(nick) + "/"
}
