// Package rss turns RSS documents into feed headers and items.
//
// RSS 2.0 documents are read in a single pass over the XML token stream.
// Atom and RDF documents are delegated to gofeed and mapped through the same
// item policy: an item without a title or an absolute link is dropped.
package rss

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"rss_reader/internal/model"
)

// ErrMalformed is returned when the document is not well-formed XML.
var ErrMalformed = errors.New("malformed feed document")

// dateLayouts are tried in order. The first four cover RFC-822 with a numeric
// or named zone, with two-digit and then single-digit days; the last covers
// ISO-8601.
var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC3339,
}

// Parse decodes data fetched from sourceURL. The feed is nil when the document
// has no channel. Malformed XML yields an error wrapping ErrMalformed and no
// partial result.
func Parse(data []byte, sourceURL string) (*model.Feed, []model.FeedItem, error) {
	p := &parser{source: sourceURL}
	return p.run(data)
}

type parser struct {
	source string

	feed    *model.Feed
	items   []model.FeedItem
	stack   []string
	text    strings.Builder
	inItem  bool
	inImage bool
	current itemFields
}

type itemFields struct {
	title       string
	link        string
	description string
	pubDate     string
	imageURL    string
}

func (p *parser) run(data []byte) (*model.Feed, []model.FeedItem, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel

	sawRoot := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if !sawRoot {
				sawRoot = true
				if isForeignRoot(t.Name) {
					return parseWithGofeed(data, p.source)
				}
			}
			p.start(t)
		case xml.EndElement:
			p.end(t)
		case xml.CharData:
			p.text.Write(t)
		}
	}

	if !sawRoot {
		return nil, nil, fmt.Errorf("%w: no root element", ErrMalformed)
	}
	return p.feed, p.items, nil
}

func (p *parser) start(t xml.StartElement) {
	p.stack = append(p.stack, elementKey(t.Name))
	p.text.Reset()

	if t.Name.Space != "" {
		return
	}
	switch t.Name.Local {
	case "channel":
		if p.feed == nil {
			p.feed = &model.Feed{URL: p.source}
		}
	case "item":
		p.inItem = true
		p.current = itemFields{}
	case "image":
		if !p.inItem {
			p.inImage = true
		}
	case "enclosure":
		if p.inItem && p.current.imageURL == "" {
			if u, typ := attr(t, "url"), attr(t, "type"); isImageType(typ) && u != "" {
				p.current.imageURL = u
			}
		}
	}
}

func (p *parser) end(t xml.EndElement) {
	value := strings.TrimSpace(p.text.String())
	p.text.Reset()
	parent := p.parent()
	if len(p.stack) > 0 {
		p.stack = p.stack[:len(p.stack)-1]
	}

	if t.Name.Space != "" {
		return
	}

	switch {
	case t.Name.Local == "item":
		p.inItem = false
		p.emit()
	case t.Name.Local == "image" && p.inImage:
		p.inImage = false
	case p.inItem:
		p.setItemField(t.Name.Local, value)
	case p.inImage:
		if t.Name.Local == "url" && p.feed != nil && p.feed.ImageURL == "" {
			p.feed.ImageURL = value
		}
	case parent == "channel" && p.feed != nil:
		switch t.Name.Local {
		case "title":
			p.feed.Title = value
		case "description":
			p.feed.Description = value
		}
	}
}

func (p *parser) setItemField(name, value string) {
	switch name {
	case "title":
		p.current.title = value
	case "link":
		p.current.link = value
	case "description":
		p.current.description = value
	case "pubDate":
		p.current.pubDate = value
	}
}

func (p *parser) emit() {
	c := p.current
	p.current = itemFields{}
	if c.title == "" || !isAbsoluteURL(c.link) {
		return
	}
	p.items = append(p.items, model.FeedItem{
		FeedID:      p.source,
		Title:       c.title,
		Link:        c.link,
		PubDate:     ParseDate(c.pubDate),
		Description: c.description,
		ImageURL:    c.imageURL,
	})
}

// parent returns the key of the element enclosing the one being closed.
func (p *parser) parent() string {
	if len(p.stack) < 2 {
		return ""
	}
	return p.stack[len(p.stack)-2]
}

// ParseDate parses an RSS publish date. Unknown formats yield nil.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func elementKey(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func attr(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if a.Name.Space == "" && a.Name.Local == name {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

func isImageType(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(mediaType), "image/")
}

func isAbsoluteURL(s string) bool {
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func isForeignRoot(n xml.Name) bool {
	return n.Local == "feed" || n.Local == "RDF"
}
