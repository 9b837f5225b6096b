package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gosh-fetch/internal/domain"
	"gosh-fetch/internal/engine"
)

const maxRedirects = 10

// ErrHTMLPage is the message returned when a URL resolves to a web page
// instead of a file.
const ErrHTMLPage = "URL resolved to an HTML page. Try the direct download link."

// Resolver probes a candidate download URL before it is handed to the
// engine, following redirects and rejecting landing pages.
type Resolver struct {
	client *http.Client
}

func NewResolver(timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewResolverWithClient(&http.Client{Timeout: timeout})
}

// NewResolverWithClient uses client for probes. Its redirect policy is
// replaced with a 10 hop limit.
func NewResolverWithClient(client *http.Client) *Resolver {
	c := *client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}
	return &Resolver{client: &c}
}

// Resolve returns the final post-redirect URL. It tries a HEAD probe first
// and falls back to a one-byte ranged GET when HEAD fails or is not 2xx.
func (r *Resolver) Resolve(ctx context.Context, rawURL string, opts engine.Options) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return "", domain.InvalidInput("url", "not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", domain.InvalidInput("url", fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	rawURL = u.String()

	resp, err := r.probe(ctx, http.MethodHead, rawURL, opts)
	if err != nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
		if err == nil {
			resp.Body.Close()
		}
		if ctx.Err() != nil {
			return "", domain.Network("failed to resolve URL", true, ctx.Err())
		}
		resp, err = r.probe(ctx, http.MethodGet, rawURL, opts)
		if err != nil {
			return "", domain.Network("failed to resolve URL", true, err)
		}
	}
	defer resp.Body.Close()
	_, _ = io.CopyN(io.Discard, resp.Body, 1)

	finalURL := resp.Request.URL.String()
	if LooksLikeHTML(finalURL, resp.Header.Get("Content-Type"), resp.Header.Get("Content-Disposition")) {
		return "", domain.InvalidInput("url", ErrHTMLPage)
	}
	return finalURL, nil
}

func (r *Resolver) probe(ctx context.Context, method, rawURL string, opts engine.Options) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	ApplyRequestOptions(req, opts)

	return r.client.Do(req)
}

// ApplyRequestOptions sets the user agent, referer, extra headers and
// cookies from opts on req.
func ApplyRequestOptions(req *http.Request, opts engine.Options) {
	if opts.UserAgent != "" {
		req.Header.Set("User-Agent", opts.UserAgent)
	}
	if opts.Referer != "" {
		req.Header.Set("Referer", opts.Referer)
	}
	for _, h := range opts.Headers {
		req.Header.Add(h.Name, h.Value)
	}
	if len(opts.Cookies) > 0 {
		req.Header.Set("Cookie", strings.Join(opts.Cookies, "; "))
	}
}

// LooksLikeHTML reports whether a probe response is a web page rather than
// the requested file. Attachments and URLs ending in .html/.htm pass.
func LooksLikeHTML(finalURL, contentType, contentDisposition string) bool {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/html") {
		return false
	}
	if strings.Contains(strings.ToLower(contentDisposition), "attachment") {
		return false
	}
	u := strings.ToLower(finalURL)
	return !strings.HasSuffix(u, ".html") && !strings.HasSuffix(u, ".htm")
}
