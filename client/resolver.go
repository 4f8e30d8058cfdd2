package client

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

// HostRule tells the resolver how to turn a landing page of one file host
// into a direct download URL.
type HostRule struct {
	Host string
	// Attribute and Value select the anchor whose href is the direct link.
	Attribute string
	Value     string
	// Rewrite, when set, maps the landing URL without fetching it.
	Rewrite func(u *url.URL) (string, bool)
}

func (r HostRule) matches(host string) bool {
	host = strings.ToLower(host)
	want := strings.ToLower(r.Host)
	return host == want || strings.HasSuffix(host, "."+want)
}

// DefaultRules covers the hosts the catalog links to.
func DefaultRules() []HostRule {
	return []HostRule{
		{Host: "mediafire.com", Attribute: "id", Value: "downloadButton"},
		{Host: "pixeldrain.com", Rewrite: func(u *url.URL) (string, bool) {
			parts := strings.Split(strings.Trim(u.Path, "/"), "/")
			if len(parts) == 2 && parts[0] == "u" {
				return u.Scheme + "://" + u.Host + "/api/file/" + parts[1] + "?download", true
			}
			return "", false
		}},
	}
}

// PageRenderer loads a page in a real browser and returns its HTML.
type PageRenderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Resolver turns known landing pages into direct download URLs.
type Resolver struct {
	client   *Client
	rules    []HostRule
	renderer PageRenderer
}

// NewResolver uses the default rules and a headless browser for CDN-protected pages.
func NewResolver(c *Client) *Resolver {
	return &Resolver{client: c, rules: DefaultRules(), renderer: &BrowserRenderer{ExecPath: c.opts.ChromePath}}
}

// WithRules replaces the host rules.
func (r *Resolver) WithRules(rules ...HostRule) *Resolver {
	r.rules = rules
	return r
}

// WithRenderer replaces the browser fallback.
func (r *Resolver) WithRenderer(p PageRenderer) *Resolver {
	r.renderer = p
	return r
}

// Resolve returns a direct URL for raw. URLs on unknown hosts are returned as is.
func (r *Resolver) Resolve(ctx context.Context, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", clierr.New(clierr.Validation, "invalid download URL "+raw, err)
	}
	var rule *HostRule
	for i := range r.rules {
		if r.rules[i].matches(u.Hostname()) {
			rule = &r.rules[i]
			break
		}
	}
	if rule == nil {
		return raw, nil
	}
	if rule.Rewrite != nil {
		if direct, ok := rule.Rewrite(u); ok {
			return direct, nil
		}
		return raw, nil
	}

	page, err := r.fetchPage(ctx, raw)
	if err != nil {
		return "", err
	}
	href, ok := findAnchor(page, rule.Attribute, rule.Value)
	if !ok {
		return "", clierr.New(clierr.NotFound, "no download link found on "+u.Hostname()+" landing page", nil)
	}
	direct, err := u.Parse(href)
	if err != nil {
		return "", clierr.New(clierr.NotFound, "download link on landing page is malformed", err)
	}
	log.Info().Str("landing", raw).Str("direct", direct.String()).Msg("Resolved direct download URL")
	return direct.String(), nil
}

func (r *Resolver) fetchPage(ctx context.Context, raw string) ([]byte, error) {
	body, err := r.client.Get(ctx, raw)
	if err == nil {
		return body, nil
	}
	var se *StatusError
	if errors.As(err, &se) && se.CDNChallenge() && r.renderer != nil {
		log.Info().Str("url", raw).Msg("Landing page is behind a CDN challenge, using a browser")
		page, rerr := r.renderer.Render(ctx, raw)
		if rerr != nil {
			return nil, clierr.New(clierr.ExternalToolFailed, "browser could not load the landing page", rerr)
		}
		return []byte(page), nil
	}
	return nil, clierr.New(clierr.ExternalToolFailed, "failed to load landing page "+raw, err)
}

// findAnchor returns the href of the first <a> whose attr equals value.
func findAnchor(page []byte, attr, value string) (string, bool) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return "", false
	}
	var walk func(n *html.Node) (string, bool)
	walk = func(n *html.Node) (string, bool) {
		if n.Type == html.ElementNode && n.Data == "a" {
			var href string
			matched := false
			for _, a := range n.Attr {
				switch {
				case a.Key == "href":
					href = a.Val
				case a.Key == attr && a.Val == value:
					matched = true
				}
			}
			if matched && href != "" {
				return href, true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if href, ok := walk(c); ok {
				return href, true
			}
		}
		return "", false
	}
	return walk(doc)
}
