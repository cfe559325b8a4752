package fetch

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidSourceURL indicates the URL is not a supported video URL.
var ErrInvalidSourceURL = errors.New("invalid source URL")

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var watchHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
}

// ValidateSourceURL reports whether raw has a supported video URL shape:
//
//	https://youtube.com/watch?v=ID (also www., m., music.)
//	https://youtube.com/shorts/ID
//	https://youtu.be/ID
func ValidateSourceURL(raw string) error {
	_, err := parseVideoID(raw)
	return err
}

// ExtractVideoID returns the video ID of a supported URL.
func ExtractVideoID(raw string) (string, bool) {
	id, err := parseVideoID(raw)
	return id, err == nil
}

func parseVideoID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSourceURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSourceURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https: %q", ErrInvalidSourceURL, raw)
	}

	host := strings.ToLower(u.Hostname())
	var id string
	switch {
	case host == "youtu.be":
		id = strings.Trim(u.Path, "/")
	case watchHosts[host]:
		switch {
		case u.Path == "/watch":
			id = u.Query().Get("v")
		case strings.HasPrefix(u.Path, "/shorts/"):
			id = strings.Trim(strings.TrimPrefix(u.Path, "/shorts/"), "/")
		default:
			return "", fmt.Errorf("%w: unsupported path %q", ErrInvalidSourceURL, u.Path)
		}
	default:
		return "", fmt.Errorf("%w: unsupported host %q", ErrInvalidSourceURL, host)
	}

	if !videoIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: missing or malformed video id in %q", ErrInvalidSourceURL, raw)
	}
	return id, nil
}
