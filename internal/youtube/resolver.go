// Package youtube knows the shape of YouTube pages: how video ids appear in
// URLs and where a watch page displays its title.
package youtube

import (
	"net/url"
	"regexp"
	"strconv"
)

// IDLength is the length of every YouTube video id.
const IDLength = 11

// Each pattern captures exactly eleven id characters that are followed by a
// non-id character or the end of input. Order is precedence.
var idPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[?&]v=([A-Za-z0-9_-]{11})(?:[^A-Za-z0-9_-]|$)`),
	regexp.MustCompile(`youtu\.be/([A-Za-z0-9_-]{11})(?:[^A-Za-z0-9_-]|$)`),
	regexp.MustCompile(`/embed/([A-Za-z0-9_-]{11})(?:[^A-Za-z0-9_-]|$)`),
}

var idRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ParseVideoID extracts the video id from rawURL. The v= query parameter
// wins over the youtu.be short form, which wins over the /embed/ form.
func ParseVideoID(rawURL string) (string, bool) {
	for _, re := range idPatterns {
		if m := re.FindStringSubmatch(rawURL); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// IsVideoID reports whether s has the shape of a video id.
func IsVideoID(s string) bool {
	return idRe.MatchString(s)
}

// ResolveVideoID accepts either a bare id or a URL.
func ResolveVideoID(s string) (string, bool) {
	if IsVideoID(s) {
		return s, true
	}
	return ParseVideoID(s)
}

// WatchURL returns the canonical watch page of videoID, optionally starting
// at sec seconds.
func WatchURL(videoID string, sec int) string {
	q := url.Values{"v": {videoID}}
	if sec > 0 {
		q.Set("t", strconv.Itoa(sec)+"s")
	}
	return "https://www.youtube.com/watch?" + q.Encode()
}

var startRe = regexp.MustCompile(`^(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s?)?$`)

// StartTime returns the start offset in seconds carried by a t= or start=
// parameter, such as "95", "95s" or "1m35s".
func StartTime(rawURL string) (int, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, false
	}
	q := u.Query()
	v := q.Get("t")
	if v == "" {
		v = q.Get("start")
	}
	if v == "" {
		return 0, false
	}
	m := startRe.FindStringSubmatch(v)
	if m == nil || (m[1] == "" && m[2] == "" && m[3] == "") {
		return 0, false
	}
	total := 0
	for i, unit := range []int{3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, false
		}
		total += n * unit
	}
	return total, true
}
