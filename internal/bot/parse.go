package bot

import (
	"fmt"
	"strconv"
	"strings"
)

// FeedRef points at a saved feed either by its 1-based position in /list or
// by its URL. Exactly one of Index and URL is set.
type FeedRef struct {
	Index int
	URL   string
}

// ParseFeedRef parses the argument of commands that act on one feed.
func ParseFeedRef(args string) (FeedRef, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return FeedRef{}, fmt.Errorf("feed number or URL is required")
	}
	s := fields[0]
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 {
			return FeedRef{}, fmt.Errorf("invalid feed number %q", s)
		}
		return FeedRef{Index: n}, nil
	}
	if !strings.Contains(s, "://") {
		return FeedRef{}, fmt.Errorf("invalid feed reference %q", s)
	}
	return FeedRef{URL: s}, nil
}

// ParseCallback splits callback data of the form "<action>:<index>".
func ParseCallback(data string) (string, int, error) {
	action, idx, ok := strings.Cut(data, ":")
	if !ok || action == "" {
		return "", 0, fmt.Errorf("malformed callback data %q", data)
	}
	n, err := strconv.Atoi(idx)
	if err != nil {
		return "", 0, fmt.Errorf("invalid callback index %q", idx)
	}
	return action, n, nil
}

func callbackData(action string, index int) string {
	return fmt.Sprintf("%s:%d", action, index)
}
