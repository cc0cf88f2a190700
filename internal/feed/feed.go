// Package feed reads image feed manifests and lays them out as page
// elements for the scheduler.
package feed

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/zfogg/sidechain/lazyload/internal/lazyload"
)

const (
	DefaultImageHeight = 400
	DefaultGap         = 16
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type ViewportSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Entry is one image in a manifest. Zero geometry means "stack it".
type Entry struct {
	ID       string  `json:"id"`
	URL      string  `json:"url"`
	Priority int     `json:"priority"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
}

func (e Entry) placed() bool {
	return e.Width > 0 && e.Height > 0
}

type Manifest struct {
	Viewport ViewportSize `json:"viewport"`
	Images   []Entry      `json:"images"`
}

// Item pairs a laid-out element with what to load into it.
type Item struct {
	Image    *lazyload.Image
	URL      string
	Priority lazyload.Priority
}

// LoadFile reads a manifest from disk. "-" reads stdin.
func LoadFile(path string) (*Manifest, error) {
	if path == "-" {
		return Parse(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse accepts a JSON manifest or plain text with one "url [priority]"
// per line. Blank lines and lines starting with # are skipped.
func Parse(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var m Manifest
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return nil, fmt.Errorf("invalid manifest json: %w", err)
		}
		for i, e := range m.Images {
			if strings.TrimSpace(e.URL) == "" {
				return nil, fmt.Errorf("manifest image %d has no url", i)
			}
		}
		return &m, nil
	}

	return parseText(trimmed)
}

func parseText(data []byte) (*Manifest, error) {
	m := &Manifest{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		entry := Entry{URL: fields[0]}
		if len(fields) > 1 {
			p, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid priority %q", line, fields[1])
			}
			entry.Priority = p
		}
		m.Images = append(m.Images, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return m, nil
}

// FromURLs builds a manifest from bare URLs sharing one priority.
func FromURLs(urls []string, priority int) *Manifest {
	m := &Manifest{Images: make([]Entry, 0, len(urls))}
	for _, u := range urls {
		m.Images = append(m.Images, Entry{URL: u, Priority: priority})
	}
	return m
}

// Layout turns the manifest into page elements. Unplaced images are stacked
// in a single column of the given width below everything placed so far.
func (m *Manifest) Layout(width float64) []Item {
	if width <= 0 {
		width = m.Viewport.Width
	}

	items := make([]Item, 0, len(m.Images))
	bottom := 0.0
	for _, e := range m.Images {
		if e.placed() && e.Y+e.Height > bottom {
			bottom = e.Y + e.Height
		}
	}
	if bottom > 0 {
		bottom += DefaultGap
	}

	for i, e := range m.Images {
		id := e.ID
		if id == "" {
			id = fmt.Sprintf("img-%d", i+1)
		}

		bounds := lazyload.Rect{X: e.X, Y: e.Y, Width: e.Width, Height: e.Height}
		if !e.placed() {
			bounds = lazyload.Rect{X: 0, Y: bottom, Width: width, Height: DefaultImageHeight}
			bottom += DefaultImageHeight + DefaultGap
		}

		items = append(items, Item{
			Image:    lazyload.NewImage(id, bounds),
			URL:      e.URL,
			Priority: lazyload.Priority(e.Priority),
		})
	}
	return items
}

// Height is the bottom edge of the laid-out page.
func Height(items []Item) float64 {
	h := 0.0
	for _, it := range items {
		b := it.Image.Bounds()
		if b.Y+b.Height > h {
			h = b.Y + b.Height
		}
	}
	return h
}
