package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"sort"
	"strings"
)

// Key derives the coalescing key for a request. A non-empty idempotencyKey is
// used as is (scoped by method); otherwise the key covers the method, the
// normalized URL and a hash of the body.
func Key(method, rawURL string, body []byte, idempotencyKey string) string {
	method = strings.ToUpper(method)
	if idempotencyKey != "" {
		return method + " idem:" + idempotencyKey
	}

	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeURL(rawURL)))
	if len(body) > 0 {
		bodySum := sha256.Sum256(body)
		h.Write([]byte{0})
		h.Write(bodySum[:])
	}
	return method + " " + hex.EncodeToString(h.Sum(nil))
}

// NormalizeURL lower-cases scheme and host, strips default ports, cleans the
// path, drops the fragment and sorts query parameters so equivalent URLs
// compare equal. A trailing slash on the path is kept.
// Unparseable input is returned unchanged.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = normalizeHost(u.Scheme, u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" && u.Host != "" {
		u.Path = "/"
		u.RawPath = ""
	} else if u.Path != "" {
		u.Path = cleanPath(u.Path)
		u.RawPath = ""
	}

	query := u.Query()
	for k := range query {
		sort.Strings(query[k])
	}
	u.RawQuery = query.Encode()

	return u.String()
}

func cleanPath(p string) string {
	cleaned := path.Clean(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

func normalizeHost(scheme, host string) string {
	host = strings.ToLower(host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		return strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		return strings.TrimSuffix(host, ":443")
	}
	return host
}
