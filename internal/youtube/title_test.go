package youtube

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectTitle(t *testing.T) {
	tests := []struct {
		name string
		page string
		want string
	}{
		{
			name: "meta name wins",
			page: `<html><head><title>Doc - YouTube</title>
				<meta property="og:title" content="OG title">
				<meta name="title" content="Meta title"></head>
				<body><h1 class="title">Heading</h1></body></html>`,
			want: "Meta title",
		},
		{
			name: "og title when meta name missing",
			page: `<html><head><meta property="og:title" content=" OG title "><title>Doc - YouTube</title></head></html>`,
			want: "OG title",
		},
		{
			name: "empty meta falls through",
			page: `<html><head><meta name="title" content="  "><title>Doc - YouTube</title></head></html>`,
			want: "Doc",
		},
		{
			name: "heading selector precedence beats document order",
			page: `<html><body>
				<h1 class="title">Generic</h1>
				<h1 class="style-scope ytd-watch-metadata"><yt-formatted-string>Specific
				  title</yt-formatted-string></h1></body></html>`,
			want: "Specific title",
		},
		{
			name: "heading under #title",
			page: `<html><body><h1>Site header</h1><div id="title"><h1> Nested </h1></div></body></html>`,
			want: "Nested",
		},
		{
			name: "heading under ytd-watch-metadata",
			page: `<html><body><ytd-watch-metadata><div><h1>Custom element</h1></div></ytd-watch-metadata></body></html>`,
			want: "Custom element",
		},
		{
			name: "unmatched headings ignored",
			page: `<html><head><title>Only doc - YouTube</title></head><body><h1>Plain</h1></body></html>`,
			want: "Only doc",
		},
		{
			name: "suffix only stripped at end",
			page: `<title>A - YouTube channel</title>`,
			want: "A - YouTube channel",
		},
		{
			name: "nothing",
			page: `<html><body><p>no title</p></body></html>`,
			want: "",
		},
		{
			name: "empty input",
			page: "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectTitle(strings.NewReader(tt.page)))
		})
	}
}

func TestPageDetector(t *testing.T) {
	var gotUA, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotPath = r.URL.RequestURI()
		if r.URL.Query().Get("v") == "missingvid1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Fetched - YouTube</title></head></html>`))
	}))
	defer srv.Close()

	d := NewPageDetector(srv.Client(), srv.URL+"/", "mimi-test")
	ctx := context.Background()

	title, err := d.DetectTitle(ctx, "abcdefghijk")
	require.NoError(t, err)
	assert.Equal(t, "Fetched", title)
	assert.Equal(t, "mimi-test", gotUA)
	assert.Equal(t, "/watch?v=abcdefghijk", gotPath)

	_, err = d.DetectTitle(ctx, "missingvid1")
	assert.ErrorContains(t, err, "404")

	_, err = d.DetectTitle(ctx, "bad id")
	assert.Error(t, err)
}
