// Package opml imports and exports YouTube subscriptions as OPML.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/bryan-buckman/skyvault/internal/model"
)

// ExportTitle is the head title of exported documents.
const ExportTitle = "SkyTube Subscriptions Export"

const (
	feedURLPrefix    = "https://www.youtube.com/feeds/videos.xml?channel_id="
	channelURLPrefix = "https://www.youtube.com/channel/"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline is a channel, or a folder of channels when it has children.
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Entry is one channel found in an OPML document.
type Entry struct {
	ChannelID string
	Title     string
	// Category is the enclosing folder, if any.
	Category string
	// NeedsLookup is set when only a /user/ or /c/ name was found; the
	// value in ChannelID is that name, not a channel id.
	NeedsLookup bool
}

// Parse reads an OPML document and returns the channels it lists.
// Outlines whose type is set to something other than rss are skipped.
func Parse(r io.Reader) ([]Entry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []Entry
	var walk func(outlines []Outline, folder string)
	walk = func(outlines []Outline, folder string) {
		for _, o := range outlines {
			if o.XMLURL == "" && o.HTMLURL == "" {
				if len(o.Outlines) > 0 {
					name := o.Text
					if name == "" {
						name = o.Title
					}
					walk(o.Outlines, name)
				}
				continue
			}
			if o.Type != "" && !strings.EqualFold(o.Type, "rss") {
				continue
			}
			id, lookup := channelID(o)
			if id == "" {
				continue
			}
			title := o.Title
			if title == "" {
				title = o.Text
			}
			entries = append(entries, Entry{ChannelID: id, Title: title, Category: folder, NeedsLookup: lookup})
		}
	}
	walk(doc.Body.Outlines, "")
	return entries, nil
}

// channelID extracts the id from the feed url, falling back to the page url.
func channelID(o Outline) (string, bool) {
	if u, err := url.Parse(o.XMLURL); err == nil && o.XMLURL != "" {
		if id := u.Query().Get("channel_id"); id != "" {
			return id, false
		}
	}
	u, err := url.Parse(o.HTMLURL)
	if err != nil || o.HTMLURL == "" {
		return "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[1] == "" {
		return "", false
	}
	switch parts[0] {
	case "channel":
		return parts[1], false
	case "user", "c":
		return parts[1], true
	}
	return "", false
}

// Export writes the channels as an OPML document. Channels with a category
// are grouped in a folder named after categoryLabels[id].
func Export(channels []model.Channel, categoryLabels map[int64]string) ([]byte, error) {
	doc := OPML{
		Version: "1.1",
		Head: Head{
			Title:       ExportTitle,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}

	folders := make(map[string]*Outline)
	var root []Outline
	for _, ch := range channels {
		o := Outline{
			Text:    ch.Title,
			Title:   ch.Title,
			Type:    "rss",
			XMLURL:  feedURLPrefix + ch.ID,
			HTMLURL: channelURLPrefix + ch.ID,
		}
		label := ""
		if ch.CategoryID != nil {
			label = categoryLabels[*ch.CategoryID]
		}
		if label == "" {
			root = append(root, o)
			continue
		}
		if f, ok := folders[label]; ok {
			f.Outlines = append(f.Outlines, o)
		} else {
			folders[label] = &Outline{Text: label, Title: label, Outlines: []Outline{o}}
		}
	}

	names := make([]string, 0, len(folders))
	for name := range folders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		root = append(root, *folders[name])
	}
	doc.Body.Outlines = root

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
