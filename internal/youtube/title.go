package youtube

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// titleSuffix is appended to every watch page's document title.
const titleSuffix = " - YouTube"

// maxPageBytes bounds how much of a watch page is read.
const maxPageBytes = 4 << 20

// headingSelectors are the title headings YouTube has used, most specific
// first. Each matches an h1 element given its ancestors.
var headingSelectors = []func(n *html.Node, ancestors []*html.Node) bool{
	// h1.ytd-watch-metadata
	func(n *html.Node, _ []*html.Node) bool { return hasClass(n, "ytd-watch-metadata") },
	// h1.title
	func(n *html.Node, _ []*html.Node) bool { return hasClass(n, "title") },
	// #title h1
	func(_ *html.Node, ancestors []*html.Node) bool {
		return slices.ContainsFunc(ancestors, func(a *html.Node) bool { return attr(a, "id") == "title" })
	},
	// ytd-watch-metadata h1
	func(_ *html.Node, ancestors []*html.Node) bool {
		return slices.ContainsFunc(ancestors, func(a *html.Node) bool { return a.Data == "ytd-watch-metadata" })
	},
}

// DetectTitle finds the displayed title of a watch page. Sources in order:
// the title meta tags, the first heading matching a known selector, then the
// document title without its " - YouTube" suffix. It returns "" when none
// yields text or the page cannot be parsed.
func DetectTitle(r io.Reader) string {
	doc, err := html.Parse(r)
	if err != nil {
		return ""
	}

	var (
		metaName, metaOG string
		docTitle         string
		headings         []headingMatch
	)
	walk(doc, nil, func(n *html.Node, ancestors []*html.Node) {
		switch n.DataAtom {
		case atom.Meta:
			content := strings.TrimSpace(attr(n, "content"))
			if content == "" {
				return
			}
			if metaName == "" && attr(n, "name") == "title" {
				metaName = content
			}
			if metaOG == "" && attr(n, "property") == "og:title" {
				metaOG = content
			}
		case atom.Title:
			if docTitle == "" {
				docTitle = textContent(n)
			}
		case atom.H1:
			if text := textContent(n); text != "" {
				headings = append(headings, headingMatch{node: n, ancestors: slices.Clone(ancestors), text: text})
			}
		}
	})

	if metaName != "" {
		return metaName
	}
	if metaOG != "" {
		return metaOG
	}
	for _, sel := range headingSelectors {
		for _, h := range headings {
			if sel(h.node, h.ancestors) {
				return h.text
			}
		}
	}
	return strings.TrimSpace(strings.TrimSuffix(docTitle, titleSuffix))
}

type headingMatch struct {
	node      *html.Node
	ancestors []*html.Node
	text      string
}

// walk visits element nodes depth first in document order.
func walk(n *html.Node, ancestors []*html.Node, visit func(n *html.Node, ancestors []*html.Node)) {
	if n.Type == html.ElementNode {
		visit(n, ancestors)
		ancestors = append(ancestors, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, ancestors, visit)
	}
}

// textContent joins the text below n with runs of whitespace collapsed.
func textContent(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	return slices.Contains(strings.Fields(attr(n, "class")), class)
}

// PageDetector fetches watch pages over HTTP and detects their titles.
type PageDetector struct {
	client    *http.Client
	baseURL   string
	userAgent string
}

// NewPageDetector returns a detector fetching from baseURL, which defaults
// to https://www.youtube.com. A nil client uses http.DefaultClient.
func NewPageDetector(client *http.Client, baseURL, userAgent string) *PageDetector {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = "https://www.youtube.com"
	}
	return &PageDetector{
		client:    client,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		userAgent: userAgent,
	}
}

// DetectTitle fetches the watch page of videoID and returns its title.
func (d *PageDetector) DetectTitle(ctx context.Context, videoID string) (string, error) {
	if !IsVideoID(videoID) {
		return "", fmt.Errorf("detect title: invalid video id %q", videoID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/watch?v="+videoID, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	req.Header.Set("Accept", "text/html")
	req.Header.Set("Accept-Language", "en")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching watch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetching watch page: unexpected status %d", resp.StatusCode)
	}
	return DetectTitle(io.LimitReader(resp.Body, maxPageBytes)), nil
}
