// Package workshop resolves Steam Workshop items to the mod ids a game
// server needs. The workshop page is the only public source for the
// "Mod ID:" mapping, so resolution scrapes the item page.
package workshop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"grimm.is/zedctl/internal/brand"
	"grimm.is/zedctl/internal/logging"
)

var (
	// ErrNotFound means the workshop item does not exist or is hidden.
	ErrNotFound = errors.New("workshop: item not found")

	// ErrParse means the input or the fetched page could not be interpreted.
	ErrParse = errors.New("workshop: unparseable")

	// ErrRateLimited means Steam is throttling us; retry later.
	ErrRateLimited = errors.New("workshop: rate limited")
)

// Mod is the result of resolving one workshop item.
type Mod struct {
	WorkshopID string   `json:"workshop_id"`
	ModIDs     []string `json:"mod_ids"`
	Name       string   `json:"name,omitempty"`
	URL        string   `json:"workshop_url,omitempty"`
}

// Resolver maps a workshop id or page URL to mod metadata.
type Resolver interface {
	Resolve(ctx context.Context, idOrURL string) (*Mod, error)
}

const defaultBaseURL = "https://steamcommunity.com/sharedfiles/filedetails/"

var (
	idPattern       = regexp.MustCompile(`id=(\d+)`)
	bareIDPattern   = regexp.MustCompile(`^\d+$`)
	boldModPattern  = regexp.MustCompile(`(?i)Mod\s*ID:\s*<b>([A-Za-z0-9_-]+)</b>`)
	plainModPattern = regexp.MustCompile(`(?i)Mod\s*ID:\s*([A-Za-z0-9_-]+)`)
)

// Mod descriptions are free-form HTML; these tokens show up when the
// plain pattern lands inside markup rather than on a real id.
var bogusModIDs = map[string]bool{"b": true, "br": true, "div": true, "span": true}

// SteamResolver fetches and scrapes workshop pages.
type SteamResolver struct {
	client  *http.Client
	baseURL string
	log     *logging.Logger
}

// NewSteamResolver returns a resolver using the public Steam community
// site. baseURL overrides the endpoint for tests; empty means production.
func NewSteamResolver(client *http.Client, baseURL string) *SteamResolver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &SteamResolver{
		client:  client,
		baseURL: baseURL,
		log:     logging.WithComponent("workshop"),
	}
}

// ExtractID pulls the numeric workshop id out of a raw id or page URL.
func ExtractID(idOrURL string) (string, error) {
	s := strings.TrimSpace(idOrURL)
	if bareIDPattern.MatchString(s) {
		return s, nil
	}
	if m := idPattern.FindStringSubmatch(s); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("%w: no workshop id in %q", ErrParse, idOrURL)
}

// Resolve fetches the workshop page for the item and extracts its title
// and every advertised mod id.
func (r *SteamResolver) Resolve(ctx context.Context, idOrURL string) (*Mod, error) {
	id, err := ExtractID(idOrURL)
	if err != nil {
		return nil, err
	}

	pageURL := r.baseURL + "?id=" + id
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	req.Header.Set("User-Agent", brand.UserAgent())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("workshop: fetch %s: %w", id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: item %s", ErrRateLimited, id)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: item %s", ErrNotFound, id)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("workshop: fetch %s: unexpected status %d", id, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read item %s: %v", ErrParse, id, err)
	}
	page := string(body)

	name := extractTitle(page)
	modIDs := extractModIDs(page)

	// Steam serves a 200 error page for deleted or private items. Such a
	// page has neither a title nor any mod ids.
	if name == "" && len(modIDs) == 0 {
		return nil, fmt.Errorf("%w: item %s", ErrNotFound, id)
	}

	r.log.Debug("resolved workshop item", "id", id, "name", name, "mod_ids", modIDs)

	return &Mod{
		WorkshopID: id,
		ModIDs:     modIDs,
		Name:       name,
		URL:        defaultBaseURL + "?id=" + id,
	}, nil
}

// extractTitle finds the text of the workshopItemTitle div.
func extractTitle(page string) string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return ""
	}

	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			for _, a := range n.Attr {
				if a.Key == "class" && strings.Contains(a.Val, "workshopItemTitle") {
					title = strings.TrimSpace(nodeText(n))
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		} else {
			sb.WriteString(nodeText(c))
		}
	}
	return sb.String()
}

// extractModIDs collects every "Mod ID:" declaration in the description,
// bold-wrapped first, deduplicated in order of appearance.
func extractModIDs(page string) []string {
	var ids []string
	seen := make(map[string]bool)

	for _, m := range boldModPattern.FindAllStringSubmatch(page, -1) {
		id := strings.TrimSpace(m[1])
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	for _, m := range plainModPattern.FindAllStringSubmatch(page, -1) {
		id := strings.TrimSpace(m[1])
		if id == "" || seen[id] || bogusModIDs[strings.ToLower(id)] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	return ids
}
