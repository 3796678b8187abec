package httpclient

import "net/http"

// StandardHeaders are attached to every playlist and segment GET so the
// engine presents as a regular browser session to origins that gate on
// User-Agent/Referer/Origin.
type StandardHeaders struct {
	UserAgent string
	Referer   string
	Origin    string
}

// Apply sets the standard headers on req, leaving any header the caller
// already set untouched.
func (h StandardHeaders) Apply(req *http.Request) {
	setIfEmpty(req, "User-Agent", h.UserAgent)
	setIfEmpty(req, "Accept", "*/*")
	setIfEmpty(req, "Accept-Language", "en-US,en;q=0.9")
	setIfEmpty(req, "Referer", h.Referer)
	setIfEmpty(req, "Origin", h.Origin)
}

func setIfEmpty(req *http.Request, key, value string) {
	if value != "" && req.Header.Get(key) == "" {
		req.Header.Set(key, value)
	}
}
