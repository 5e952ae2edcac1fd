package agentloop

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

const testPage = `<!DOCTYPE html>
<html>
<head><title>Docs</title><script>var secret = 1;</script></head>
<body>
<nav>site menu</nav>
<main>
<h1>Hello</h1>
<p>Some <strong>bold</strong> and <a href="https://example.com/x">a link</a>.</p>
<ul><li>one</li><li>two</li></ul>
<ol><li>first</li><li>second</li></ol>
<pre>code
block</pre>
<blockquote>quoted</blockquote>
</main>
<footer>outside main</footer>
</body>
</html>`

func newFetchServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if !strings.Contains(r.UserAgent(), "gemcode") {
			t.Errorf("User-Agent = %q", r.UserAgent())
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, testPage)
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "just text\n")
	})
	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"a":1}`)
	})
	mux.HandleFunc("/binary", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte{0, 1, 2, 3})
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	})
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/plain", http.StatusFound)
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetchHTML(t *testing.T) {
	srv, _ := newFetchServer(t)
	out, err := NewFetcher(0).Fetch(context.Background(), srv.URL+"/page")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	wantPrefix := "URL: " + srv.URL + "/page\nStatus: 200 OK\n\n# Docs\n\n# Hello"
	if !strings.HasPrefix(out, wantPrefix) {
		t.Errorf("output prefix:\n%s\nwant prefix:\n%s", out, wantPrefix)
	}
	for _, want := range []string{
		"Some **bold** and [a link](https://example.com/x).",
		"- one\n- two",
		"1. first\n2. second",
		"```\ncode\nblock\n```",
		"> quoted",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	for _, unwanted := range []string{"secret", "site menu", "outside main"} {
		if strings.Contains(out, unwanted) {
			t.Errorf("output should not contain %q", unwanted)
		}
	}
}

func TestFetchContentTypes(t *testing.T) {
	srv, _ := newFetchServer(t)
	f := NewFetcher(0)

	tests := []struct {
		path    string
		want    string
		wantErr string
	}{
		{path: "/plain", want: "\n\njust text\n"},
		{path: "/json", want: "{\n  \"a\": 1\n}"},
		{path: "/binary", wantErr: "unsupported content type"},
		{path: "/missing", wantErr: "HTTP 404"},
		{path: "/redirect", want: "URL: " + srv.URL + "/plain\n"},
		{path: "/loop", wantErr: "redirects"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			out, err := f.Fetch(context.Background(), srv.URL+tt.path)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output %q missing %q", out, tt.want)
			}
		})
	}
}

func TestFetchCachesSuccessOnly(t *testing.T) {
	srv, hits := newFetchServer(t)
	f := NewFetcher(0)

	for range 3 {
		if _, err := f.Fetch(context.Background(), srv.URL+"/page"); err != nil {
			t.Fatal(err)
		}
	}
	if n := atomic.LoadInt32(hits); n != 1 {
		t.Errorf("page hits = %d, want 1", n)
	}

	for range 2 {
		f.Fetch(context.Background(), srv.URL+"/missing")
	}
	if n := atomic.LoadInt32(hits); n != 3 {
		t.Errorf("total hits = %d, want 3", n)
	}
}

func TestFetchRejectsBadURLs(t *testing.T) {
	f := NewFetcher(0)
	for _, u := range []string{"ftp://example.com/file", "file:///etc/passwd", "http://", "::bad"} {
		if _, err := f.Fetch(context.Background(), u); err == nil {
			t.Errorf("Fetch(%q) succeeded, want error", u)
		}
	}
}

func TestFetchURLToolValidatesURL(t *testing.T) {
	env, reg := newTestEnv(t)
	res := dispatch(t, reg, env, "fetch_url", `{"url":"not a url","description":"x"}`)
	if !res.IsError || !strings.Contains(res.Content, "url failed url") {
		t.Errorf("got %+v", res)
	}
}

func TestHTMLToMarkdownFallsBackToBody(t *testing.T) {
	out, err := HTMLToMarkdown(strings.NewReader(`<body><h2>Title</h2><p>Line<br>break</p><img alt="logo" src="/l.png"></body>`))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"## Title", "Line\nbreak", "![logo](/l.png)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}
