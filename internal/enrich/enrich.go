// Package enrich backfills listing logos by inspecting donate pages.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"supporthub/internal/rowstore"
	"supporthub/pkg/models"
)

// LogoFinder inspects a page and returns a candidate image URL, or "" when
// the page has none.
type LogoFinder interface {
	Find(ctx context.Context, pageURL string) (string, error)
}

type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) ([]byte, error)
}

type ImageValidator interface {
	IsImage(ctx context.Context, imageURL string) (bool, error)
}

// ErrEnrichment wraps discovery failures. They never leave the package; the
// record is resolved to the "(none)" logo instead.
var ErrEnrichment = errors.New("enrichment failed")

// DefaultReserved are path segments after the social domain that are not
// profile handles.
var DefaultReserved = []string{"intent", "about", "me", "signup", "gofundme", "share", "home", "i", "search", "hashtag"}

type Options struct {
	SocialDomain      string
	AvatarURLTemplate string // {handle} is replaced
	Reserved          []string
}

func DefaultOptions() Options {
	return Options{
		SocialDomain:      "twitter.com",
		AvatarURLTemplate: "https://unavatar.io/twitter/{handle}",
		Reserved:          DefaultReserved,
	}
}

type Enricher struct {
	Finder    LogoFinder
	Fetcher   PageFetcher
	Validator ImageValidator

	opts     Options
	handleRe *regexp.Regexp
	reserved map[string]struct{}
	log      zerolog.Logger
}

func New(finder LogoFinder, fetcher PageFetcher, validator ImageValidator, opts Options, log zerolog.Logger) *Enricher {
	def := DefaultOptions()
	if opts.SocialDomain == "" {
		opts.SocialDomain = def.SocialDomain
	}
	if opts.AvatarURLTemplate == "" {
		opts.AvatarURLTemplate = def.AvatarURLTemplate
	}
	if opts.Reserved == nil {
		opts.Reserved = def.Reserved
	}
	reserved := make(map[string]struct{}, len(opts.Reserved))
	for _, r := range opts.Reserved {
		reserved[strings.ToLower(r)] = struct{}{}
	}
	return &Enricher{
		Finder:    finder,
		Fetcher:   fetcher,
		Validator: validator,
		opts:      opts,
		handleRe:  regexp.MustCompile(regexp.QuoteMeta(opts.SocialDomain) + `/([A-Za-z0-9_]+)(?:[^A-Za-z0-9_]|$)`),
		reserved:  reserved,
		log:       log,
	}
}

// Enrich resolves the row's logo and saves the logo column. It never
// returns an error: failures end in the "(none)" state and a failed save is
// retried once and then logged.
func (e *Enricher) Enrich(ctx context.Context, part rowstore.Partition, row *rowstore.Row) string {
	donateURL := row.Get(models.ColDonateURL)
	logo, err := e.Discover(ctx, donateURL, row.Get(models.ColLogo))
	if err != nil {
		e.log.Warn().Err(err).Str("url", donateURL).Msg("logo discovery failed")
		logo = models.LogoNone
	} else if logo != models.LogoNone {
		e.log.Debug().Str("url", donateURL).Str("logo", logo).Msg("found logo")
	}

	row.Set(models.ColLogo, logo)
	if err := SaveWithRetry(ctx, part, row, models.ColLogo); err != nil {
		e.log.Error().Err(err).Str("url", donateURL).Msg("save logo failed")
	}
	return logo
}

// Discover returns a validated image URL or "(none)".
func (e *Enricher) Discover(ctx context.Context, donateURL, current string) (string, error) {
	var candidate string
	if !models.IsTwitterOverride(current) && e.Finder != nil {
		found, err := e.Finder.Find(ctx, donateURL)
		if err != nil {
			return "", fmt.Errorf("%w: find logo on %s: %v", ErrEnrichment, donateURL, err)
		}
		if found != "" && !IsIconURL(found) {
			candidate = found
		}
	}

	if candidate == "" && e.Fetcher != nil {
		body, err := e.Fetcher.Fetch(ctx, donateURL)
		if err != nil {
			return "", fmt.Errorf("%w: fetch %s: %v", ErrEnrichment, donateURL, err)
		}
		if handle := e.FindHandle(body); handle != "" {
			candidate = strings.ReplaceAll(e.opts.AvatarURLTemplate, "{handle}", handle)
		}
	}

	if candidate == "" {
		return models.LogoNone, nil
	}
	if e.Validator != nil {
		ok, err := e.Validator.IsImage(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("%w: validate %s: %v", ErrEnrichment, candidate, err)
		}
		if !ok {
			return models.LogoNone, nil
		}
	}
	return candidate, nil
}

// FindHandle returns the first social-profile handle in body that is not a
// reserved path segment.
func (e *Enricher) FindHandle(body []byte) string {
	for _, m := range e.handleRe.FindAllSubmatch(body, -1) {
		handle := string(m[1])
		if _, skip := e.reserved[strings.ToLower(handle)]; skip {
			continue
		}
		return handle
	}
	return ""
}

// IsIconURL reports whether the URL path ends in an icon-file extension.
func IsIconURL(raw string) bool {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	}
	return strings.EqualFold(path.Ext(p), ".ico")
}

// SaveWithRetry saves the named columns, retrying once.
func SaveWithRetry(ctx context.Context, part rowstore.Partition, row *rowstore.Row, columns ...string) error {
	if err := part.SaveRow(ctx, row, columns...); err == nil {
		return nil
	}
	return part.SaveRow(ctx, row, columns...)
}
