package fetcher

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

var feedTypes = map[string]bool{
	"application/rss+xml":  true,
	"application/atom+xml": true,
}

// isHTML reports whether a response is a web page rather than a feed. Feeds
// served as text/html are recognised by their leading markup.
func isHTML(contentType string, body []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(body[:min(len(body), 512)]))
	for _, p := range []string{"<?xml", "<rss", "<feed", "<rdf:rdf"} {
		if bytes.HasPrefix(head, []byte(p)) {
			return false
		}
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if mt == "text/html" || mt == "application/xhtml+xml" {
			return true
		}
	}
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

// Discover returns the absolute URL of the first feed advertised by an HTML
// page through <link rel="alternate">.
func Discover(page []byte, pageURL string) (string, bool) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}

	z := html.NewTokenizer(bytes.NewReader(page))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", false
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "link":
				if href, ok := alternateFeed(tok); ok {
					ref, err := url.Parse(href)
					if err != nil {
						continue
					}
					return base.ResolveReference(ref).String(), true
				}
			case "body":
				return "", false
			}
		}
	}
}

func alternateFeed(tok html.Token) (string, bool) {
	var rel, typ, href string
	for _, a := range tok.Attr {
		switch a.Key {
		case "rel":
			rel = strings.ToLower(a.Val)
		case "type":
			typ = strings.ToLower(strings.TrimSpace(a.Val))
		case "href":
			href = strings.TrimSpace(a.Val)
		}
	}
	if href == "" || !feedTypes[typ] {
		return "", false
	}
	for _, r := range strings.Fields(rel) {
		if r == "alternate" {
			return href, true
		}
	}
	return "", false
}
