package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcherMemoizesBodies(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Write([]byte("<html>hello</html>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(FetcherOptions{RequestsPerSecond: 100, Burst: 10})
	for i := 0; i < 3; i++ {
		body, err := f.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.Equal(t, "<html>hello</html>", string(body))
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestHTTPFetcherRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(DefaultFetcherOptions()).Fetch(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "410")
}

func TestHTMLFinderPriority(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "og image wins",
			html: `<head>
				<link rel="icon" href="/favicon.png">
				<link rel="apple-touch-icon" href="/touch.png">
				<meta name="twitter:image" content="https://cdn.example/tw.png">
				<meta property="og:image" content="/og.png">
			</head>`,
			want: "/og.png",
		},
		{
			name: "touch icon before logo img",
			html: `<head><link rel="apple-touch-icon" href="touch.png"></head>
				<body><img class="site-logo" src="/img/brand.svg"></body>`,
			want: "/shop/touch.png",
		},
		{
			name: "logo img",
			html: `<body><img src="/hero.jpg"><img alt="Cafe logo" src="https://cdn.example/brand.svg"></body>`,
			want: "https://cdn.example/brand.svg",
		},
		{
			name: "icon last",
			html: `<head><link rel="shortcut icon" href="/fav.png"></head>`,
			want: "/fav.png",
		},
		{
			name: "non http schemes are skipped",
			html: `<head><meta property="og:image" content="data:image/png;base64,AAAA"><link rel="icon" href="/fav.png"></head>`,
			want: "/fav.png",
		},
		{
			name: "nothing",
			html: `<body><p>hi</p></body>`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				w.Write([]byte(tt.html))
			}))
			defer srv.Close()

			f := NewHTMLFinder(NewHTTPFetcher(FetcherOptions{RequestsPerSecond: 100, Burst: 10}))
			got, err := f.Find(context.Background(), srv.URL+"/shop/")
			require.NoError(t, err)

			want := tt.want
			if len(want) > 0 && want[0] == '/' && (len(want) < 2 || want[1] != '/') {
				want = srv.URL + want
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestHTTPValidator(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	mux := http.NewServeMux()
	mux.HandleFunc("/typed.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	})
	mux.HandleFunc("/untyped", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		if r.Method == http.MethodHead {
			return
		}
		w.Write(png)
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	})
	mux.HandleFunc("/missing.png", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	v := NewHTTPValidator(5*time.Second, time.Minute)
	ctx := context.Background()

	for path, want := range map[string]bool{
		"/typed.png":   true,
		"/untyped":     true,
		"/page":        false,
		"/missing.png": false,
	} {
		ok, err := v.IsImage(ctx, srv.URL+path)
		require.NoError(t, err, path)
		assert.Equal(t, want, ok, path)
	}
}
