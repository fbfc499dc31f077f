package crawler

import (
	"net/url"
	"strconv"
	"strings"
)

// MaxWaitMs is the longest render wait the provider accepts.
const MaxWaitMs = 35000

var proxySchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks4": true,
	"socks5": true,
}

// ValidateRequest checks cross-parameter constraints before any network call.
// It returns the request unchanged on success and a ConstraintViolation otherwise.
func ValidateRequest(req FetchRequest) (FetchRequest, error) {
	if err := validateTarget(req.URL); err != nil {
		return FetchRequest{}, err
	}
	tier := req.EffectiveTier()
	if !tier.Valid() {
		return FetchRequest{}, NewError(ErrorKindConstraintViolation, "unknown proxy_tier %q", req.ProxyTier)
	}
	if req.ForceMode != "" && !req.ForceMode.Valid() {
		return FetchRequest{}, NewError(ErrorKindConstraintViolation, "unknown force_mode %q", req.ForceMode)
	}
	pinned := tier
	if req.ForceMode != "" {
		pinned = req.ForceMode
	}

	if (tier == TierStealth || req.ForceMode == TierStealth) && !req.RenderJS {
		return FetchRequest{}, NewError(ErrorKindConstraintViolation, "stealth proxy requires render_js=true")
	}
	if req.ForwardHeadersPure && req.RenderJS {
		return FetchRequest{}, NewError(ErrorKindConstraintViolation, "forward_headers_pure requires render_js=false")
	}

	usesCustom := tier == TierCustom || pinned == TierCustom
	switch {
	case usesCustom && strings.TrimSpace(req.CustomProxyURI) == "":
		return FetchRequest{}, NewError(ErrorKindConstraintViolation, "custom proxy tier requires custom_proxy_uri")
	case !usesCustom && req.CustomProxyURI != "":
		return FetchRequest{}, NewError(ErrorKindConstraintViolation, "custom_proxy_uri is only allowed with the custom tier")
	case usesCustom:
		if err := ValidateProxyURI(req.CustomProxyURI); err != nil {
			return FetchRequest{}, err
		}
	}

	if req.WaitMs < 0 || req.WaitMs > MaxWaitMs {
		return FetchRequest{}, NewError(ErrorKindConstraintViolation, "wait_ms must be between 0 and %d", MaxWaitMs)
	}
	if req.WindowWidth < 0 || req.WindowHeight < 0 {
		return FetchRequest{}, NewError(ErrorKindConstraintViolation, "window dimensions must be >= 0")
	}
	if req.CountryCode != "" && !isCountryCode(req.CountryCode) {
		return FetchRequest{}, NewError(ErrorKindConstraintViolation, "country_code %q must be two letters", req.CountryCode)
	}
	return req, nil
}

// ValidateProxyURI accepts protocol://[user:pass@]host:port.
func ValidateProxyURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return WrapError(ErrorKindConstraintViolation, err, "malformed custom_proxy_uri")
	}
	if !proxySchemes[strings.ToLower(u.Scheme)] {
		return NewError(ErrorKindConstraintViolation, "custom_proxy_uri scheme %q is not supported", u.Scheme)
	}
	if u.Hostname() == "" {
		return NewError(ErrorKindConstraintViolation, "custom_proxy_uri requires a host")
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil || port < 1 || port > 65535 {
		return NewError(ErrorKindConstraintViolation, "custom_proxy_uri requires a numeric port")
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return NewError(ErrorKindConstraintViolation, "custom_proxy_uri must not carry a path or query")
	}
	if u.User != nil {
		password, hasPassword := u.User.Password()
		if u.User.Username() == "" || !hasPassword || password == "" {
			return NewError(ErrorKindConstraintViolation, "custom_proxy_uri credentials must be user:pass")
		}
	}
	return nil
}

func validateTarget(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return NewError(ErrorKindConstraintViolation, "url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return WrapError(ErrorKindConstraintViolation, err, "malformed url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewError(ErrorKindConstraintViolation, "url must use http or https")
	}
	if u.Hostname() == "" {
		return NewError(ErrorKindConstraintViolation, "url requires a host")
	}
	return nil
}

func isCountryCode(code string) bool {
	if len(code) != 2 {
		return false
	}
	for _, r := range code {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
