package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases host", "https://EXAMPLE.org/Path", "https://example.org/Path"},
		{"strips default https port", "https://example.org:443/a", "https://example.org/a"},
		{"strips default http port", "http://example.org:80/a", "http://example.org/a"},
		{"drops fragment", "https://example.org/a#section", "https://example.org/a"},
		{"adds root path", "https://example.org", "https://example.org/"},
		{"sorts query", "https://example.org/?b=2&a=1", "https://example.org/?a=1&b=2"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURLRejectsRelative(t *testing.T) {
	t.Parallel()

	_, err := NormalizeURL("/relative/path")
	require.Error(t, err)
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.org", HostOf("https://EXAMPLE.org:8443/x"))
	require.Equal(t, "", HostOf("://bad"))
	require.True(t, SameHost("https://a.example.org/1", "http://A.EXAMPLE.ORG/2"))
	require.False(t, SameHost("https://a.example.org", "https://b.example.org"))
}
