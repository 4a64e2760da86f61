package crawl

import (
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/publicsuffix"
)

// Outlinks are the anchors of a page split by registrable host.
type Outlinks struct {
	Internal []string `json:"internal"`
	External []string `json:"external"`
}

// RenderMarkdown converts an HTML document to markdown.
func RenderMarkdown(htmlSource string) (string, error) {
	return htmltomarkdown.ConvertString(htmlSource)
}

// RegistrableHost returns the eTLD+1 of a URL's host, the identity
// used as source_id and for internal-link classification. Falls back
// to the bare host when the public suffix list has no answer.
func RegistrableHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if etld, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return etld
	}
	return host
}

// ExtractOutlinks parses anchors out of an HTML document and resolves
// them against baseURL. Links sharing the base's registrable host are
// internal; fragments and non-http schemes are dropped.
func ExtractOutlinks(htmlSource, baseURL string) Outlinks {
	base, err := url.Parse(baseURL)
	if err != nil {
		return Outlinks{}
	}
	baseHost := RegistrableHost(baseURL)

	root, err := html.Parse(strings.NewReader(htmlSource))
	if err != nil {
		return Outlinks{}
	}

	var links Outlinks
	seen := make(map[string]struct{})

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				resolved := resolveLink(base, attr.Val)
				if resolved == "" {
					break
				}
				if _, ok := seen[resolved]; ok {
					break
				}
				seen[resolved] = struct{}{}
				if RegistrableHost(resolved) == baseHost {
					links.Internal = append(links.Internal, resolved)
				} else {
					links.External = append(links.External, resolved)
				}
				break
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return links
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}
