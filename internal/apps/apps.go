// File: internal/apps/apps.go

// Package apps resolves well known web applications to their login and home
// URLs. The registry covers the apps the tool is routinely pointed at; anything
// unknown falls back to a generated https://{name}.com/login address.
package apps

import "strings"

// loginURLs maps normalized app keys to their login entry points.
var loginURLs = map[string]string{
	"LINEAR": "https://linear.app/login",
	"NOTION": "https://www.notion.so/login",
	"ASANA":  "https://app.asana.com/login",
}

// loginPathSuffixes are the URL path fragments that mark a login page. They are
// stripped, in order, when deriving the home URL.
var loginPathSuffixes = []string{"/login", "/signin", "/sign-in", "/auth"}

// LoginURL returns the login page URL for the named application.
// Unknown apps get a best-guess URL derived from the name itself.
func LoginURL(appName string) string {
	key := strings.ToUpper(strings.ReplaceAll(appName, " ", "_"))
	if url, ok := loginURLs[key]; ok {
		return url
	}

	lower := strings.ToLower(strings.ReplaceAll(appName, " ", ""))

	// A handful of common apps keep their login flow off the naive pattern.
	switch {
	case strings.Contains(lower, "trello"):
		return "https://trello.com/login"
	case strings.Contains(lower, "jira"):
		return "https://id.atlassian.com/login"
	case strings.Contains(lower, "github"):
		return "https://github.com/login"
	case strings.Contains(lower, "slack"):
		return "https://slack.com/signin#/signin"
	case strings.Contains(lower, "figma"):
		return "https://figma.com/login"
	}

	return "https://" + lower + ".com/login"
}

// HomeURL returns the application's landing URL, derived by stripping the
// login path (and any query string) from the login URL.
func HomeURL(appName string) string {
	home := LoginURL(appName)
	for _, suffix := range loginPathSuffixes {
		if idx := strings.Index(home, suffix); idx >= 0 {
			home = home[:idx]
			if q := strings.Index(home, "?"); q >= 0 {
				home = home[:q]
			}
			break
		}
	}
	return home
}

// DirName normalizes an app name into a filesystem friendly directory name.
func DirName(appName string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(appName)), " ", "_")
}
