package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var excludedExt = regexp.MustCompile(`(?i)\.(pdf|jpg|png|gif)$`)

// NormalizeURL strips the fragment and any trailing slash, and lowercases the
// scheme and host.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return strings.TrimSuffix(u.String(), "/"), nil
}

// StripFragment removes the #fragment from rawURL.
func StripFragment(rawURL string) string {
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// PathSegments returns the non-empty path segments of u in their escaped
// form, so URLs rebuilt from them compare equal to u.String() output.
func PathSegments(u *url.URL) []string {
	parts := strings.Split(u.EscapedPath(), "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Origin returns scheme://host of u.
func Origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

// DepthAndParent derives the path-segment depth and the one-level-up parent of
// rawURL. Depth 0 pages have no parent; depth 1 pages hang off the origin.
func DepthAndParent(rawURL string) (int, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, "", fmt.Errorf("parse url: %w", err)
	}
	segments := PathSegments(u)
	depth := len(segments)
	if depth == 0 {
		return 0, "", nil
	}
	parentPath := strings.Join(segments[:depth-1], "/")
	if parentPath == "" {
		return depth, Origin(u), nil
	}
	return depth, Origin(u) + "/" + parentPath, nil
}

// SameSite reports whether candidate shares the registrable host of base,
// ignoring a leading "www.".
func SameSite(base, candidate *url.URL) bool {
	return strings.TrimPrefix(strings.ToLower(base.Hostname()), "www.") ==
		strings.TrimPrefix(strings.ToLower(candidate.Hostname()), "www.")
}

// Excluded reports whether the URL points at a media file the crawl skips.
func Excluded(u *url.URL) bool {
	return excludedExt.MatchString(u.Path)
}

// ValidateRequest checks caller input and applies the page budget default.
func ValidateRequest(req JobRequest) (JobRequest, error) {
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.GroupingKey = strings.TrimSpace(req.GroupingKey)
	req.SiteURL = strings.TrimSpace(req.SiteURL)
	if req.OwnerID == "" {
		return req, &ValidationError{Field: "owner_id", Reason: "required"}
	}
	if req.GroupingKey == "" {
		return req, &ValidationError{Field: "grouping_key", Reason: "required"}
	}
	if req.SiteURL == "" {
		return req, &ValidationError{Field: "site_url", Reason: "required"}
	}
	u, err := url.Parse(req.SiteURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return req, &ValidationError{Field: "site_url", Reason: "must be an absolute http(s) URL"}
	}
	if req.MaxPages < 0 {
		return req, &ValidationError{Field: "max_pages", Reason: "must be >= 0"}
	}
	if req.MaxPages == 0 {
		req.MaxPages = DefaultMaxPages
	}
	return req, nil
}
