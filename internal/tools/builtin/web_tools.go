package builtin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/opera-os/opera/internal/tools"
)

const (
	maxFetchBytes = 2 << 20
	maxFetchChars = 5000
)

type webTools struct {
	client *http.Client
}

func (w *webTools) catalog() []*tools.Tool {
	return []*tools.Tool{
		tools.NewTool(schema("fetch_url", "Fetch a web page and return its text", "page text", network,
			param("url", "string", "http or https URL", true)), w.fetch),
		tools.NewTool(schema("search_web", "Search the web (needs a search API to be configured)", "search notice", network,
			param("query", "string", "search terms", true)), w.search),
	}
}

// search has no backend yet; it reports that instead of failing so plans
// that include it still complete.
// TODO: call a configured search API once models config carries its key.
func (w *webTools) search(_ context.Context, args map[string]any) (any, error) {
	query := strings.TrimSpace(tools.StringArg(args, "query", ""))
	if query == "" {
		return nil, errors.New("search_web: query is required")
	}
	return fmt.Sprintf("Web search for '%s' - integration pending. Configure a search API to enable.", query), nil
}

func (w *webTools) fetch(ctx context.Context, args map[string]any) (any, error) {
	raw := tools.StringArg(args, "url", "")
	if raw == "" {
		return nil, errors.New("fetch_url: url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("fetch_url: unsupported url %q", raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch_url: %w", err)
	}
	req.Header.Set("User-Agent", "opera/1.0")
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.5")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch_url: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch_url: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch_url: read body: %w", err)
	}

	text := string(body)
	if ct := resp.Header.Get("Content-Type"); ct == "" || strings.Contains(ct, "html") {
		text, err = htmlText(text)
		if err != nil {
			return nil, fmt.Errorf("fetch_url: parse html: %w", err)
		}
	}
	return map[string]any{
		"url":     u.String(),
		"content": truncate(text, maxFetchChars),
	}, nil
}

// htmlText returns the visible text of an HTML document with one line per
// block element.
func htmlText(doc string) (string, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				sb.WriteString(t)
				sb.WriteByte(' ')
			}
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "iframe", "svg", "head":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			sb.WriteByte('\n')
		}
	}
	walk(root)

	var lines []string
	for _, line := range strings.Split(sb.String(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true,
	"article": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "pre": true, "blockquote": true, "title": true,
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
