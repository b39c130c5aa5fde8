package enrich

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const defaultUserAgent = "supporthub-logo-finder/1.0 (+https://youhaveour.support)"

type FetcherOptions struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxBytes          int64
	UserAgent         string
	MemoTTL           time.Duration
}

func DefaultFetcherOptions() FetcherOptions {
	return FetcherOptions{
		Timeout:           12 * time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
		MaxBytes:          2 << 20,
		UserAgent:         defaultUserAgent,
		MemoTTL:           10 * time.Minute,
	}
}

// HTTPFetcher downloads pages with a global request rate and remembers
// recent bodies, so the logo finder and the handle scan share one download.
type HTTPFetcher struct {
	Client    *http.Client
	Limiter   *rate.Limiter
	UserAgent string
	MaxBytes  int64
	memo      *gocache.Cache
}

func NewHTTPFetcher(opts FetcherOptions) *HTTPFetcher {
	def := DefaultFetcherOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = def.RequestsPerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = def.Burst
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = def.MaxBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if opts.MemoTTL <= 0 {
		opts.MemoTTL = def.MemoTTL
	}
	return &HTTPFetcher{
		Client:    &http.Client{Timeout: opts.Timeout},
		Limiter:   rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		UserAgent: opts.UserAgent,
		MaxBytes:  opts.MaxBytes,
		memo:      gocache.New(opts.MemoTTL, 2*opts.MemoTTL),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	if v, ok := f.memo.Get(pageURL); ok {
		return v.([]byte), nil
	}
	if err := f.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	f.memo.SetDefault(pageURL, body)
	return body, nil
}

// HTMLFinder looks for a logo in the page markup. Candidates in priority
// order: og:image, twitter:image, apple-touch-icon, an <img> that calls
// itself a logo, and finally the page icon.
type HTMLFinder struct {
	Fetcher PageFetcher
}

func NewHTMLFinder(fetcher PageFetcher) *HTMLFinder {
	return &HTMLFinder{Fetcher: fetcher}
}

const (
	prioOGImage = iota
	prioTwitterImage
	prioTouchIcon
	prioLogoImg
	prioIcon
	prioCount
)

func (f *HTMLFinder) Find(ctx context.Context, pageURL string) (string, error) {
	body, err := f.Fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return "", err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var found [prioCount]string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			classify(n, &found)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for _, raw := range found {
		if raw == "" {
			continue
		}
		ref, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			continue
		}
		return abs.String(), nil
	}
	return "", nil
}

func classify(n *html.Node, found *[prioCount]string) {
	set := func(prio int, v string) {
		if v != "" && found[prio] == "" {
			found[prio] = v
		}
	}
	switch n.Data {
	case "meta":
		key := strings.ToLower(attr(n, "property"))
		if key == "" {
			key = strings.ToLower(attr(n, "name"))
		}
		switch key {
		case "og:image", "og:image:url", "og:image:secure_url":
			set(prioOGImage, attr(n, "content"))
		case "twitter:image", "twitter:image:src":
			set(prioTwitterImage, attr(n, "content"))
		}
	case "link":
		rel := strings.ToLower(attr(n, "rel"))
		switch {
		case strings.Contains(rel, "apple-touch-icon"):
			set(prioTouchIcon, attr(n, "href"))
		case strings.Contains(rel, "icon"):
			set(prioIcon, attr(n, "href"))
		}
	case "img":
		src := attr(n, "src")
		hint := strings.ToLower(src + " " + attr(n, "class") + " " + attr(n, "id") + " " + attr(n, "alt"))
		if strings.Contains(hint, "logo") {
			set(prioLogoImg, src)
		}
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// HTTPValidator checks that a URL serves an image, by Content-Type or by
// sniffing the first bytes when the server does not say.
type HTTPValidator struct {
	Client    *http.Client
	UserAgent string
	memo      *gocache.Cache
}

func NewHTTPValidator(timeout, memoTTL time.Duration) *HTTPValidator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if memoTTL <= 0 {
		memoTTL = time.Hour
	}
	return &HTTPValidator{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: defaultUserAgent,
		memo:      gocache.New(memoTTL, 2*memoTTL),
	}
}

func (v *HTTPValidator) IsImage(ctx context.Context, imageURL string) (bool, error) {
	if cached, ok := v.memo.Get(imageURL); ok {
		return cached.(bool), nil
	}

	ok, err := v.head(ctx, imageURL)
	if err != nil || !ok {
		ok, err = v.sniff(ctx, imageURL)
	}
	if err != nil {
		return false, err
	}
	v.memo.SetDefault(imageURL, ok)
	return ok, nil
}

func (v *HTTPValidator) head(ctx context.Context, imageURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, imageURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", v.UserAgent)
	resp, err := v.Client.Do(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, nil
	}
	return isImageType(resp.Header.Get("Content-Type")), nil
}

func (v *HTTPValidator) sniff(ctx context.Context, imageURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", v.UserAgent)
	req.Header.Set("Range", "bytes=0-511")
	resp, err := v.Client.Do(req)
	if err != nil {
		return false, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, nil
	}
	if isImageType(resp.Header.Get("Content-Type")) {
		return true, nil
	}
	head, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil {
		return false, fmt.Errorf("read body: %w", err)
	}
	return isImageType(http.DetectContentType(head)), nil
}

func isImageType(ct string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(ct)), "image/")
}
