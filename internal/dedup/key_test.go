package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"HTTPS://API.Example.com:443/v1/models?b=2&a=1", "https://api.example.com/v1/models?a=1&b=2"},
		{"http://example.com:80", "http://example.com/"},
		{"http://example.com:8080/x#frag", "http://example.com:8080/x"},
		{"https://example.com/q?tag=z&tag=a", "https://example.com/q?tag=a&tag=z"},
		{"https://h/a/../b", "https://h/b"},
		{"https://h/a/./b/", "https://h/a/b/"},
		{"https://h//v1///models", "https://h/v1/models"},
		{"https://h/v1/models/", "https://h/v1/models/"},
		{"https://h/..", "https://h/"},
		{"::not a url", "::not a url"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(tt.in))
		})
	}
}

func TestKey(t *testing.T) {
	base := Key("GET", "https://api.example.com/v1?a=1&b=2", nil, "")

	assert.Equal(t, base, Key("get", "https://API.example.com:443/v1?b=2&a=1", nil, ""))
	assert.NotEqual(t, base, Key("HEAD", "https://api.example.com/v1?a=1&b=2", nil, ""))
	assert.NotEqual(t, base, Key("GET", "https://api.example.com/v2?a=1&b=2", nil, ""))
	assert.Equal(t, base, Key("GET", "https://api.example.com/x/../v1?a=1&b=2", nil, ""))

	withBody := Key("POST", "https://api.example.com/v1", []byte(`{"q":1}`), "")
	assert.Equal(t, withBody, Key("POST", "https://api.example.com/v1", []byte(`{"q":1}`), ""))
	assert.NotEqual(t, withBody, Key("POST", "https://api.example.com/v1", []byte(`{"q":2}`), ""))

	assert.Equal(t, "POST idem:abc", Key("post", "https://x", []byte("a"), "abc"))
}
