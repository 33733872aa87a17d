package sitemap

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://example.com/sitemaps/index.xml")
	require.NoError(t, err)

	tests := []struct {
		name    string
		raw     string
		base    *url.URL
		want    string
		wantErr bool
	}{
		{name: "absolute", raw: "https://example.com/p1", want: "https://example.com/p1"},
		{name: "relative to document", raw: "a.xml", base: base, want: "https://example.com/sitemaps/a.xml"},
		{name: "root relative", raw: "/p2", base: base, want: "https://example.com/p2"},
		{name: "scheme relative", raw: "//cdn.example.com/s.xml", base: base, want: "https://cdn.example.com/s.xml"},
		{name: "default https port", raw: "https://example.com:443/p3", want: "https://example.com/p3"},
		{name: "default http port", raw: "http://example.com:80/p3", want: "http://example.com/p3"},
		{name: "non default port kept", raw: "https://example.com:8443/p3", want: "https://example.com:8443/p3"},
		{name: "fragment dropped", raw: "https://example.com/p4#section", want: "https://example.com/p4"},
		{name: "host lowercased", raw: "HTTPS://Example.COM/Path", want: "https://example.com/Path"},
		{name: "empty path", raw: "https://example.com", want: "https://example.com/"},
		{name: "query kept", raw: "https://example.com/p?id=1", want: "https://example.com/p?id=1"},
		{name: "ipv6", raw: "http://[::1]:80/x", want: "http://[::1]/x"},
		{name: "mailto rejected", raw: "mailto:someone@example.com", wantErr: true},
		{name: "relative without base", raw: "/p1", wantErr: true},
		{name: "garbage", raw: "http://%zz", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Normalize(tc.raw, tc.base)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeDedupesEquivalentForms(t *testing.T) {
	t.Parallel()

	a, err := Normalize("https://EXAMPLE.com:443/a.xml#top", nil)
	require.NoError(t, err)
	b, err := Normalize("https://example.com/a.xml", nil)
	require.NoError(t, err)
	require.Equal(t, a, b)
}
