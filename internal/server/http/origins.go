package httpserver

import (
	"net/url"
	"strings"
)

// originHosts turns configured origins such as "http://localhost:5173" into the host
// patterns the WebSocket origin check expects.
func originHosts(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" || !strings.Contains(o, "://") {
			out = append(out, o)
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			continue
		}
		out = append(out, u.Host)
	}
	return out
}
