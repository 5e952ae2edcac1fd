package agentloop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	fetchCacheSize    = 64
	fetchCacheTTL     = 15 * time.Minute
	fetchMaxRedirects = 5
	fetchMaxBodyBytes = 5 << 20
	fetchUserAgent    = "Mozilla/5.0 (compatible; gemcode/0.1; +https://github.com/martinemde/gemcode)"
)

// Fetcher retrieves URLs and renders them as readable text. Successful
// results are cached by URL.
type Fetcher struct {
	client *http.Client
	cache  *expirable.LRU[string, string]
}

// NewFetcher creates a Fetcher whose requests time out after timeout
// (30s when zero).
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= fetchMaxRedirects {
					return fmt.Errorf("stopped after %d redirects", fetchMaxRedirects)
				}
				if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
					return fmt.Errorf("redirect to unsupported scheme %q", req.URL.Scheme)
				}
				return nil
			},
		},
		cache: expirable.NewLRU[string, string](fetchCacheSize, nil, fetchCacheTTL),
	}
}

// Fetch retrieves rawURL. HTML is converted to markdown, other text types
// are returned as-is and binary content is rejected. The result starts
// with URL and Status header lines.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.New("only http and https URLs are supported")
	}
	if u.Host == "" {
		return "", errors.New("missing hostname in URL")
	}
	key := u.String()

	if cached, ok := f.cache.Get(key); ok {
		slog.Debug("fetch_url cache hit", "url", key)
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBodyBytes+1))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	truncated := len(body) > fetchMaxBodyBytes
	if truncated {
		body = body[:fetchMaxBodyBytes]
	}

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %s", resp.Status)
	}

	text, err := renderBody(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "URL: %s\n", resp.Request.URL)
	fmt.Fprintf(&sb, "Status: %s\n", resp.Status)
	if truncated {
		fmt.Fprintf(&sb, "Truncated: body exceeded %d bytes\n", fetchMaxBodyBytes)
	}
	sb.WriteString("\n")
	sb.WriteString(text)
	out := sb.String()

	f.cache.Add(key, out)
	return out, nil
}

func renderBody(contentType string, body []byte) (string, error) {
	mediaType := ""
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = mt
		}
	}
	if mediaType == "" {
		mediaType, _, _ = mime.ParseMediaType(http.DetectContentType(body))
	}

	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		return HTMLToMarkdown(bytes.NewReader(body))
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err == nil {
			return buf.String(), nil
		}
		return string(body), nil
	case strings.HasPrefix(mediaType, "text/"),
		mediaType == "application/xml",
		strings.HasSuffix(mediaType, "+xml"),
		mediaType == "application/javascript":
		return string(body), nil
	default:
		return "", fmt.Errorf("unsupported content type %q", mediaType)
	}
}

var (
	reBlankLines = regexp.MustCompile(`\n{3,}`)
	reTrailingWS = regexp.MustCompile(`[ \t]+\n`)
)

// HTMLToMarkdown parses an HTML document and renders its main content as
// markdown. The <main> or <article> element is preferred over <body>.
func HTMLToMarkdown(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	root := findElement(doc, atom.Main)
	if root == nil {
		root = findElement(doc, atom.Article)
	}
	if root == nil {
		root = findElement(doc, atom.Body)
	}
	if root == nil {
		root = doc
	}

	m := &mdRenderer{}
	if title := findElement(doc, atom.Title); title != nil {
		if t := strings.TrimSpace(textContent(title)); t != "" {
			m.sb.WriteString("# " + t + "\n\n")
		}
	}
	m.children(root)

	out := reTrailingWS.ReplaceAllString(m.sb.String(), "\n")
	out = reBlankLines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out), nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

var skippedElements = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Nav: true,
	atom.Svg: true, atom.Iframe: true, atom.Form: true, atom.Head: true,
	atom.Template: true, atom.Button: true,
}

type listFrame struct {
	ordered bool
	n       int
}

type mdRenderer struct {
	sb    strings.Builder
	lists []listFrame
}

func (m *mdRenderer) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		m.node(c)
	}
}

// inline renders n's children into a separate buffer.
func (m *mdRenderer) inline(n *html.Node) string {
	sub := &mdRenderer{lists: m.lists}
	sub.children(n)
	return strings.TrimSpace(sub.sb.String())
}

func (m *mdRenderer) block() {
	s := m.sb.String()
	switch {
	case s == "", strings.HasSuffix(s, "\n\n"):
	case strings.HasSuffix(s, "\n"):
		m.sb.WriteString("\n")
	default:
		m.sb.WriteString("\n\n")
	}
}

func (m *mdRenderer) newline() {
	s := m.sb.String()
	if s != "" && !strings.HasSuffix(s, "\n") {
		m.sb.WriteString("\n")
	}
}

func (m *mdRenderer) text(s string) {
	words := strings.Fields(s)
	if len(words) == 0 {
		if s != "" {
			m.space()
		}
		return
	}
	if startsWithSpace(s) {
		m.space()
	}
	m.sb.WriteString(strings.Join(words, " "))
	if endsWithSpace(s) {
		m.sb.WriteString(" ")
	}
}

func (m *mdRenderer) space() {
	s := m.sb.String()
	if s != "" && !strings.HasSuffix(s, " ") && !strings.HasSuffix(s, "\n") {
		m.sb.WriteString(" ")
	}
}

func startsWithSpace(s string) bool { return s != "" && strings.TrimLeft(s, " \t\r\n") != s }
func endsWithSpace(s string) bool   { return s != "" && strings.TrimRight(s, " \t\r\n") != s }

func (m *mdRenderer) node(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		m.text(n.Data)
		return
	case html.ElementNode:
	default:
		m.children(n)
		return
	}
	if skippedElements[n.DataAtom] {
		return
	}

	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level, _ := strconv.Atoi(n.Data[1:])
		if t := m.inline(n); t != "" {
			m.block()
			m.sb.WriteString(strings.Repeat("#", level) + " " + t)
			m.block()
		}
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main, atom.Header,
		atom.Footer, atom.Table, atom.Figure, atom.Dl:
		m.block()
		m.children(n)
		m.block()
	case atom.Tr, atom.Dt, atom.Dd:
		m.newline()
		m.children(n)
		m.newline()
	case atom.Td, atom.Th:
		m.children(n)
		m.sb.WriteString(" ")
	case atom.Br:
		m.sb.WriteString("\n")
	case atom.Hr:
		m.block()
		m.sb.WriteString("---")
		m.block()
	case atom.A:
		t := m.inline(n)
		href := attr(n, "href")
		if t == "" {
			return
		}
		m.space()
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			m.sb.WriteString(t)
		} else {
			m.sb.WriteString("[" + t + "](" + href + ")")
		}
	case atom.Strong, atom.B:
		if t := m.inline(n); t != "" {
			m.space()
			m.sb.WriteString("**" + t + "**")
		}
	case atom.Em, atom.I:
		if t := m.inline(n); t != "" {
			m.space()
			m.sb.WriteString("*" + t + "*")
		}
	case atom.Code:
		if t := strings.TrimSpace(textContent(n)); t != "" {
			m.space()
			m.sb.WriteString("`" + t + "`")
		}
	case atom.Pre:
		m.block()
		m.sb.WriteString("```\n" + strings.Trim(textContent(n), "\n") + "\n```")
		m.block()
	case atom.Ul, atom.Ol:
		m.block()
		m.lists = append(m.lists, listFrame{ordered: n.DataAtom == atom.Ol})
		m.children(n)
		m.lists = m.lists[:len(m.lists)-1]
		m.block()
	case atom.Li:
		m.newline()
		depth := len(m.lists)
		marker := "- "
		if depth > 0 {
			top := &m.lists[depth-1]
			top.n++
			if top.ordered {
				marker = strconv.Itoa(top.n) + ". "
			}
		} else {
			depth = 1
		}
		m.sb.WriteString(strings.Repeat("  ", depth-1) + marker)
		m.sb.WriteString(m.inline(n))
		m.newline()
	case atom.Blockquote:
		t := m.inline(n)
		if t == "" {
			return
		}
		m.block()
		for i, line := range strings.Split(t, "\n") {
			if i > 0 {
				m.sb.WriteString("\n")
			}
			m.sb.WriteString(strings.TrimRight("> "+line, " "))
		}
		m.block()
	case atom.Img:
		if alt := strings.TrimSpace(attr(n, "alt")); alt != "" {
			m.space()
			m.sb.WriteString("![" + alt + "](" + attr(n, "src") + ")")
		}
	default:
		m.children(n)
	}
}
