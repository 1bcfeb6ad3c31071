package scanner

import "net/http"

// apiKeyTransport wraps an existing RoundTripper and sets the Coinalyze
// api_key header plus a custom User-Agent on all outgoing requests.
type apiKeyTransport struct {
	apiKey string
	agent  string
	base   http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.apiKey != "" {
		req.Header.Set("api_key", t.apiKey)
	}
	if t.agent != "" {
		req.Header.Set("User-Agent", t.agent)
	}
	if t.base != nil {
		return t.base.RoundTrip(req)
	}
	return http.DefaultTransport.RoundTrip(req)
}
