package scrapingbee

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// rawContentTypeHeader parks a charset-bearing Content-Type while colly
// post-processes the body. restoreContentType puts it back.
const rawContentTypeHeader = "X-Tierfetch-Raw-Content-Type"

// rawBodyTransport makes colly hand back the provider's bytes untouched.
// net/http has already decoded any Content-Encoding it negotiated, so the
// response is marked uncompressed and colly never gunzips a .gz download
// past the body cap. The charset parameter is moved aside so colly does
// not transcode the body to UTF-8.
type rawBodyTransport struct {
	next http.RoundTripper
}

func (t rawBodyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	res.Uncompressed = true
	if ct := res.Header.Get("Content-Type"); strings.Contains(strings.ToLower(ct), "charset") {
		mediaType, _, _ := strings.Cut(ct, ";")
		res.Header.Set(rawContentTypeHeader, ct)
		res.Header.Set("Content-Type", strings.TrimSpace(mediaType))
	}
	return res, nil
}

func restoreContentType(headers http.Header) {
	raw := headers.Get(rawContentTypeHeader)
	if raw == "" {
		return
	}
	headers.Set("Content-Type", raw)
	headers.Del(rawContentTypeHeader)
}

func newHTTPTransport() http.RoundTripper {
	return rawBodyTransport{next: &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}}
}
