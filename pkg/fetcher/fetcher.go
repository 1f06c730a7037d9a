// Package fetcher downloads claim PDFs from a URL. A URL that serves an
// HTML page is searched for its first same-host PDF link. Unless
// AllowPrivate is set, only publicly routable addresses are dialed, on
// the first request and on every redirect.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

var (
	ErrNoPDFLink     = errors.New("page has no PDF link")
	ErrTooLarge      = errors.New("download exceeds size limit")
	ErrForbiddenHost = errors.New("host is not publicly routable")
)

const maxRedirects = 5

// Ranges that IsPrivate and friends do not cover.
var reservedNets = mustParseCIDRs(
	"0.0.0.0/8",
	"100.64.0.0/10",
	"192.0.0.0/24",
	"198.18.0.0/15",
	"240.0.0.0/4",
	"64:ff9b::/96",
)

type FetcherConfig struct {
	Timeout   time.Duration
	RateLimit float64 // requests per second
	MaxBytes  int64
	// AllowPrivate permits loopback, link-local and private addresses.
	AllowPrivate bool
}

type Fetcher struct {
	config  FetcherConfig
	client  *http.Client
	limiter *rate.Limiter
}

// Remote is a downloaded file.
type Remote struct {
	URL         string
	Filename    string
	ContentType string
	Data        []byte
}

func NewWithConfig(config FetcherConfig) *Fetcher {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.MaxBytes == 0 {
		config.MaxBytes = 20 << 20
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: config.Timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
	// Proxies dial on our behalf, past the address check, so they are
	// only honored when private hosts are allowed anyway.
	if config.AllowPrivate {
		transport.Proxy = http.ProxyFromEnvironment
	} else {
		dialer.Control = guardDial
	}

	f := &Fetcher{
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
	f.client = &http.Client{
		Timeout:       config.Timeout,
		Transport:     transport,
		CheckRedirect: f.checkRedirect,
	}
	return f
}

func New() *Fetcher {
	return NewWithConfig(FetcherConfig{})
}

// Fetch downloads rawURL. HTML responses are followed one level to the
// first PDF link on the same host.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Remote, error) {
	target, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if err := f.checkURL(target); err != nil {
		return nil, err
	}

	remote, err := f.get(ctx, target)
	if err != nil {
		return nil, err
	}
	if !isHTML(remote.ContentType) {
		return remote, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(remote.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	link := findPDFLink(doc, target)
	if link == nil {
		return nil, ErrNoPDFLink
	}
	return f.get(ctx, link)
}

func (f *Fetcher) get(ctx context.Context, u *url.URL) (*Remote, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, u)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", u, err)
	}
	if int64(len(data)) > f.config.MaxBytes {
		return nil, ErrTooLarge
	}

	return &Remote{
		URL:         u.String(),
		Filename:    filename(u, resp.Header.Get("Content-Disposition")),
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (f *Fetcher) checkURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL: unsupported scheme %q", u.Scheme)
	}
	if f.config.AllowPrivate {
		return nil
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" || host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%s: %w", u.Host, ErrForbiddenHost)
	}
	if ip := net.ParseIP(host); ip != nil && !isPublic(ip) {
		return fmt.Errorf("%s: %w", u.Host, ErrForbiddenHost)
	}
	return nil
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return f.checkURL(req.URL)
}

// guardDial runs after name resolution, so it sees the address actually
// being connected to.
func guardDial(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || !isPublic(ip) {
		return fmt.Errorf("%s: %w", host, ErrForbiddenHost)
	}
	return nil
}

func isPublic(ip net.IP) bool {
	if !ip.IsGlobalUnicast() || ip.IsPrivate() {
		return false
	}
	for _, n := range reservedNets {
		if n.Contains(ip) {
			return false
		}
	}
	return true
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

func findPDFLink(doc *goquery.Document, base *url.URL) *url.URL {
	var found *url.URL
	doc.Find("a[href]").EachWithBreak(func(_ int, selection *goquery.Selection) bool {
		href, _ := selection.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref)
		if abs.Host != base.Host || !strings.HasSuffix(strings.ToLower(abs.Path), ".pdf") {
			return true
		}
		found = abs
		return false
	})
	return found
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func filename(u *url.URL, disposition string) string {
	if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
		return path.Base(params["filename"])
	}
	if base := path.Base(u.Path); base != "." && base != "/" {
		return base
	}
	return "download.pdf"
}
