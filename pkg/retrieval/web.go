package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	googleSearchURL = "https://www.googleapis.com/customsearch/v1"
	duckDuckGoURL   = "https://api.duckduckgo.com/"
)

func getJSON(ctx context.Context, client *http.Client, fullURL, logURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, http.NoBody)
	if err != nil {
		// logURL omits the API key.
		return fmt.Errorf("failed to create request for %s", logURL)
	}
	resp, err := client.Do(req)
	if err != nil {
		// *url.Error repeats the full URL, key included.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("request to %s failed: %w", logURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// GoogleSource queries the Google Custom Search JSON API.
type GoogleSource struct {
	client  *http.Client
	apiKey  string
	cx      string
	baseURL string
}

func NewGoogleSource(client *http.Client, apiKey, cx string) *GoogleSource {
	return &GoogleSource{client: client, apiKey: apiKey, cx: cx, baseURL: googleSearchURL}
}

func (g *GoogleSource) Name() string { return "Google" }

func (g *GoogleSource) Search(ctx context.Context, query string, limit int) ([]Passage, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("cx", g.cx)
	params.Set("num", strconv.Itoa(min(max(limit, 1), 10)))
	logURL := g.baseURL + "?" + params.Encode()
	params.Set("key", g.apiKey)

	var data struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := getJSON(ctx, g.client, g.baseURL+"?"+params.Encode(), logURL, &data); err != nil {
		return nil, err
	}
	if data.Error.Message != "" {
		return nil, fmt.Errorf("API error: %s", data.Error.Message)
	}

	passages := make([]Passage, 0, len(data.Items))
	for _, item := range data.Items {
		passages = append(passages, Passage{Source: g.Name(), Title: item.Title, URL: item.Link, Text: item.Snippet})
	}
	return passages, nil
}

// DuckDuckGoSource queries the DuckDuckGo Instant Answer API. It needs no key but only
// returns abstracts and related topics, not full web results.
type DuckDuckGoSource struct {
	client  *http.Client
	baseURL string
}

func NewDuckDuckGoSource(client *http.Client) *DuckDuckGoSource {
	return &DuckDuckGoSource{client: client, baseURL: duckDuckGoURL}
}

func (d *DuckDuckGoSource) Name() string { return "DuckDuckGo" }

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Topics   []ddgTopic `json:"Topics"`
}

func (d *DuckDuckGoSource) Search(ctx context.Context, query string, limit int) ([]Passage, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")
	fullURL := d.baseURL + "?" + params.Encode()

	var data struct {
		Heading        string     `json:"Heading"`
		AbstractText   string     `json:"AbstractText"`
		AbstractURL    string     `json:"AbstractURL"`
		AbstractSource string     `json:"AbstractSource"`
		RelatedTopics  []ddgTopic `json:"RelatedTopics"`
	}
	if err := getJSON(ctx, d.client, fullURL, fullURL, &data); err != nil {
		return nil, err
	}

	var passages []Passage
	if data.AbstractText != "" {
		title := data.Heading
		if data.AbstractSource != "" {
			title += " (" + data.AbstractSource + ")"
		}
		passages = append(passages, Passage{Source: d.Name(), Title: title, URL: data.AbstractURL, Text: data.AbstractText})
	}

	var walk func(topics []ddgTopic)
	walk = func(topics []ddgTopic) {
		for _, t := range topics {
			if len(passages) >= limit {
				return
			}
			if t.Text != "" {
				title, _, _ := strings.Cut(t.Text, " - ")
				passages = append(passages, Passage{Source: d.Name(), Title: title, URL: t.FirstURL, Text: t.Text})
			}
			walk(t.Topics)
		}
	}
	walk(data.RelatedTopics)

	if len(passages) > limit {
		passages = passages[:limit]
	}
	return passages, nil
}
