// Package selection holds the data exchanged between the in-page picker, the
// profile store and the capture pipeline.
package selection

import (
	"strings"
	"time"
)

// Kind is the coarse element category guessed when an element is picked.
type Kind string

const (
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
	KindSource  Kind = "source"
	KindLink    Kind = "link"
	KindInput   Kind = "input"
	KindElement Kind = "element"
)

// KindForTag returns the Kind the picker assigns to an element with the given
// (case-insensitive) tag name.
func KindForTag(tag string) Kind {
	switch strings.ToLower(tag) {
	case "img":
		return KindImage
	case "video":
		return KindVideo
	case "source":
		return KindSource
	case "a":
		return KindLink
	case "input", "textarea", "select":
		return KindInput
	default:
		return KindElement
	}
}

// Selection is one element marked by the operator. List order is pick order
// and export order.
type Selection struct {
	Selector  string `json:"selector"`
	Tag       string `json:"tag"`
	Kind      Kind   `json:"kind"`
	Text      string `json:"text"`
	Src       string `json:"src"`
	Href      string `json:"href"`
	OuterHTML string `json:"outerHtml,omitempty"`
}

// Box is an element bounding box in CSS pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Download records one media URL and either the saved file or the failure.
type Download struct {
	URL     string `json:"url"`
	SavedAs string `json:"savedAs,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result is the export record of one Selection.
type Result struct {
	Index       int    `json:"index"`
	ResolvedURL string `json:"resolvedUrl"`

	Selector   string `json:"selector,omitempty"`
	Tag        string `json:"tag,omitempty"`
	Kind       Kind   `json:"kind,omitempty"`
	PickedText string `json:"pickedText,omitempty"`
	Src        string `json:"src,omitempty"`
	Href       string `json:"href,omitempty"`
	OuterHTML  string `json:"outerHtml,omitempty"`

	BoundingBox     *Box       `json:"boundingBox,omitempty"`
	InnerText       string     `json:"innerText,omitempty"`
	TextError       string     `json:"textError,omitempty"`
	ScreenshotPath  string     `json:"screenshotPath,omitempty"`
	ScreenshotError string     `json:"screenshotError,omitempty"`
	MarkdownPath    string     `json:"markdownPath,omitempty"`
	Downloads       []Download `json:"downloads"`
	Error           string     `json:"error,omitempty"`
}

// Manifest is the single JSON document written per export.
type Manifest struct {
	SessionID      string      `json:"sessionId"`
	CapturedAt     string      `json:"capturedAt"`
	PageURL        string      `json:"pageUrl"`
	Label          string      `json:"label"`
	VideoEnabled   bool        `json:"videoEnabled"`
	PageScreenshot string      `json:"pageScreenshot,omitempty"`
	PageHTML       string      `json:"pageHtml,omitempty"`
	Selections     []Selection `json:"selections"`
	Results        []Result    `json:"results"`
}

// Item is a Selection as persisted in a selection profile.
type Item struct {
	Selector string `json:"selector"`
	Tag      string `json:"tag,omitempty"`
	Kind     Kind   `json:"kind,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Profile is a named, reusable list of selectors.
type Profile struct {
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt,omitempty"`
	Notes     string `json:"notes,omitempty"`
	Items     []Item `json:"items"`
}

// NewProfile builds a profile from picked selections, dropping blank selectors.
func NewProfile(name string, picked []Selection, now time.Time) Profile {
	p := Profile{Name: name, CreatedAt: now.UTC().Format(time.RFC3339), Items: []Item{}}
	for _, s := range picked {
		if strings.TrimSpace(s.Selector) == "" {
			continue
		}
		p.Items = append(p.Items, Item{Selector: s.Selector, Tag: s.Tag, Kind: s.Kind, Text: s.Text})
	}
	return p
}

// Selections converts the profile back into Selections. index is 1-based;
// 0 (or anything out of range below 1) selects every item. Items with a blank
// selector are skipped.
func (p Profile) Selections(index int) []Selection {
	var out []Selection
	for i, it := range p.Items {
		if index > 0 && i+1 != index {
			continue
		}
		sel := strings.TrimSpace(it.Selector)
		if sel == "" {
			continue
		}
		kind := it.Kind
		if kind == "" {
			kind = KindElement
		}
		out = append(out, Selection{Selector: sel, Tag: it.Tag, Kind: kind, Text: it.Text})
	}
	return out
}
