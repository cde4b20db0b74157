package middleware

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// NormalizeQuery drops empty query parameters. Values of listParams are also
// split on commas, so ?processInstanceId=a,b reads the same as repeating the
// parameter.
func NormalizeQuery(listParams ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			normalized := make(url.Values, len(q))
			for name, values := range q {
				split := slices.Contains(listParams, name)
				for _, value := range values {
					if !split {
						if value != "" {
							normalized[name] = append(normalized[name], value)
						}
						continue
					}
					for part := range strings.SplitSeq(value, ",") {
						if part = strings.TrimSpace(part); part != "" {
							normalized[name] = append(normalized[name], part)
						}
					}
				}
			}
			r.URL.RawQuery = normalized.Encode()
			next.ServeHTTP(w, r)
		})
	}
}
