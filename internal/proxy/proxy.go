// Package proxy forwards ticket requests verbatim to an external
// upstream API when one is configured, instead of using local storage.
package proxy

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// forwardedHeaders is the allow-list relayed upstream. Everything else
// is intentionally dropped; the upstream contract needs nothing more.
var forwardedHeaders = []string{"Cookie", "Content-Type", "Authorization"}

// Client performs pass-through requests against an upstream base URL.
// Redirects are never followed so the upstream's Location and Set-Cookie
// headers reach the original caller untouched.
type Client struct {
	Base string
	HTTP *http.Client
}

func New(base string) *Client {
	return &Client{
		Base: strings.TrimRight(base, "/"),
		HTTP: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Do forwards the inbound request to base+path, carrying the inbound
// query string, and returns the upstream response. The caller owns the
// response body.
func (p *Client) Do(c *gin.Context, path string) (*http.Response, error) {
	target := p.Base + path
	if q := c.Request.URL.RawQuery; q != "" {
		target += "?" + q
	}
	req, err := http.NewRequestWithContext(c.Request.Context(),
		c.Request.Method, target, c.Request.Body)
	if err != nil {
		return nil, err
	}
	for _, h := range forwardedHeaders {
		if v := c.GetHeader(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	return p.HTTP.Do(req)
}

// Relay forwards the request and writes the upstream response back to
// the caller, rewriting Set-Cookie so cookies re-scope to this host.
func (p *Client) Relay(c *gin.Context, path string) error {
	resp, err := p.Do(c, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	header := c.Writer.Header()
	for k, vals := range resp.Header {
		if strings.EqualFold(k, "Set-Cookie") {
			for _, v := range vals {
				header.Add("Set-Cookie", StripDomain(v))
			}
			continue
		}
		for _, v := range vals {
			header.Add(k, v)
		}
	}
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		log.Ctx(c.Request.Context()).Error().Err(err).Msg("relay upstream body")
	}
	return nil
}

// StripDomain removes a Domain=... attribute from a Set-Cookie value so
// the browser scopes the cookie to the serving host.
func StripDomain(setCookie string) string {
	parts := strings.Split(setCookie, ";")
	out := parts[:0]
	for _, p := range parts {
		if strings.EqualFold(strings.TrimSpace(strings.SplitN(p, "=", 2)[0]), "domain") {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, ";")
}
