package scrape

import (
	"net/http"
	"strings"
)

// BlockType describes the kind of block detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
	BlockRateLimit  BlockType = "rate_limit"
)

// rateLimitMarkers are the throttle notices the German aggregators serve
// with a 200 status.
var rateLimitMarkers = []string{
	"zu viele anfragen",
	"too many requests",
	"sie haben das limit",
}

// Captcha widgets on real content pages are common, so only short pages
// mentioning one are treated as a challenge.
const captchaPageLimit = 20_000

// DetectBlock checks a response for signs of anti-bot protection.
func DetectBlock(status int, header http.Header, body []byte) (bool, BlockType) {
	if status == http.StatusForbidden || status == http.StatusServiceUnavailable {
		if header.Get("cf-ray") != "" || header.Get("cf-cache-status") != "" ||
			header.Get("server") == "cloudflare" {
			return true, BlockCloudflare
		}
	}

	if status == http.StatusTooManyRequests {
		return true, BlockRateLimit
	}

	lower := strings.ToLower(string(body))

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return true, BlockCloudflare
	}

	if len(body) < captchaPageLimit {
		if strings.Contains(lower, "captcha") {
			return true, BlockCaptcha
		}
		for _, m := range rateLimitMarkers {
			if strings.Contains(lower, m) {
				return true, BlockRateLimit
			}
		}
	}

	// JS-only shell: very small body with noscript or meta refresh.
	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return true, BlockJSShell
		}
		if strings.Contains(lower, `meta http-equiv="refresh"`) {
			return true, BlockJSShell
		}
	}

	return false, BlockNone
}
