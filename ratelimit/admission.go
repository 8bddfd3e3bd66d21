package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openreel/reelkit/config"
	"github.com/openreel/reelkit/logger"
	"github.com/openreel/reelkit/metrics"
)

// Admission composes the token-bucket limiter into the layered admission
// policy: a site-wide bucket, a per-IP bucket, then per-rule buckets (one
// shared across IPs, one per IP). Any denial short-circuits.
type Admission struct {
	limiter    *Limiter
	rate       config.RateConfig
	trustProxy bool
}

// NewAdmission creates the admission layer from the rate configuration.
func NewAdmission(rate config.RateConfig, trustProxy bool) *Admission {
	return &Admission{
		limiter: NewLimiter(LimiterConfig{
			TTL:             secondsToDuration(rate.TTLSec),
			CleanupInterval: secondsToDuration(rate.CleanupIntervalSec),
			MaxBuckets:      rate.MaxBuckets,
			EvictBatch:      rate.EvictBatch,
		}),
		rate:       rate,
		trustProxy: trustProxy,
	}
}

// Limiter exposes the underlying bucket table, mainly for tests.
func (a *Admission) Limiter() *Limiter { return a.limiter }

// ClientIP resolves the client address for bucket keying. Proxy headers are
// only honored when trust-proxy is enabled; otherwise a spoofed header would
// let one client occupy arbitrary buckets.
func (a *Admission) ClientIP(r *http.Request) string {
	if a.trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// "client, proxy1, proxy2" -> client
			if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
	return host
}

// matchHTTPRule classifies a request into a named admission rule.
// Returns an empty name for non-API paths, which then only pass the
// site-wide and per-IP buckets.
func (a *Admission) matchHTTPRule(method, path string) (string, config.RuleRate) {
	method = strings.ToUpper(method)

	if method == http.MethodPost && path == "/api/sessions" {
		return "create_session", a.rate.CreateSession
	}

	if method == http.MethodPost && strings.HasPrefix(path, "/api/sessions/") {
		if strings.HasSuffix(path, "/media") || strings.HasSuffix(path, "/media/init") {
			return "upload_media", a.rate.UploadMedia
		}
		if strings.Contains(path, "/media/") &&
			(strings.HasSuffix(path, "/chunk") || strings.HasSuffix(path, "/complete") || strings.HasSuffix(path, "/cancel")) {
			return "upload_media", a.rate.UploadMedia
		}
	}

	if method == http.MethodGet && strings.HasPrefix(path, "/api/sessions/") &&
		(strings.HasSuffix(path, "/thumb") || strings.HasSuffix(path, "/file")) {
		return "media_get", a.rate.MediaGet
	}

	if method == http.MethodPost && strings.HasPrefix(path, "/api/sessions/") && strings.HasSuffix(path, "/clear") {
		return "clear_session", a.rate.ClearSession
	}

	if strings.HasPrefix(path, "/api/") {
		return "api_general", a.rate.APIGeneral
	}

	return "", config.RuleRate{}
}

// globalRuleRate returns the cross-IP bucket for rules that have one.
func (a *Admission) globalRuleRate(rule string) (config.RuleRate, bool) {
	switch rule {
	case "create_session":
		return a.rate.CreateSessionAll, true
	case "upload_media":
		return a.rate.UploadMediaAll, true
	case "media_get":
		return a.rate.MediaGetAll, true
	}
	return config.RuleRate{}, false
}

// Middleware enforces HTTP admission before the router sees the request.
func (a *Admission) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := a.ClientIP(r)

		// Site-wide bucket, all IPs merged.
		if res := a.limiter.Allow("http:all", float64(a.rate.HTTPAll.Burst), rpmToRPS(a.rate.HTTPAll.RPM), 1); !res.Allowed {
			a.reject(w, r, "http_all", res.RetryAfter)
			return
		}

		// Per-IP bucket across all endpoints.
		if res := a.limiter.Allow("http:global:"+ip, float64(a.rate.HTTPGlobalIP.Burst), rpmToRPS(a.rate.HTTPGlobalIP.RPM), 1); !res.Allowed {
			a.reject(w, r, "http_global", res.RetryAfter)
			return
		}

		rule, rr := a.matchHTTPRule(r.Method, r.URL.Path)

		cost := 1.0
		if rule == "upload_media" {
			// Large uploads consume proportionally more tokens.
			if cl := r.ContentLength; cl > 0 && a.rate.UploadCostBytes > 0 {
				cost = math.Max(1, math.Ceil(float64(cl)/float64(a.rate.UploadCostBytes)))
			}
		}

		if rule != "" {
			if g, ok := a.globalRuleRate(rule); ok {
				if res := a.limiter.Allow("http:"+rule+":all", float64(g.Burst), rpmToRPS(g.RPM), cost); !res.Allowed {
					a.reject(w, r, rule, res.RetryAfter)
					return
				}
			}
			if res := a.limiter.Allow("http:"+rule+":"+ip, float64(rr.Burst), rpmToRPS(rr.RPM), cost); !res.Allowed {
				a.reject(w, r, rule, res.RetryAfter)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// AllowWSConnect admits one WebSocket handshake from ip.
func (a *Admission) AllowWSConnect(ip string) Result {
	return a.limiter.Allow("ws:connect:"+ip, float64(a.rate.WSConnect.Burst), rpmToRPS(a.rate.WSConnect.RPM), 1)
}

// AllowWSChatSend admits one chat.send frame: a cross-IP bucket first, then
// the per-IP bucket.
func (a *Admission) AllowWSChatSend(ip string) Result {
	if res := a.limiter.Allow("ws:chat_send:all", float64(a.rate.WSChatSendAll.Burst), rpmToRPS(a.rate.WSChatSendAll.RPM), 1); !res.Allowed {
		return res
	}
	return a.limiter.Allow("ws:chat_send:"+ip, float64(a.rate.WSChatSend.Burst), rpmToRPS(a.rate.WSChatSend.RPM), 1)
}

// AllowUploadCount admits n new media files (cost = file count; init costs 1).
func (a *Admission) AllowUploadCount(ip string, n int) Result {
	cost := math.Max(0, float64(n))
	if res := a.limiter.Allow("http:upload_media_count:all", float64(a.rate.UploadCountAll.Burst), rpmToRPS(a.rate.UploadCountAll.RPM), cost); !res.Allowed {
		return res
	}
	return a.limiter.Allow("http:upload_media_count:"+ip, float64(a.rate.UploadCount.Burst), rpmToRPS(a.rate.UploadCount.RPM), cost)
}

func (a *Admission) reject(w http.ResponseWriter, r *http.Request, rule string, retryAfter float64) {
	metrics.RecordRateLimited(rule)
	logger.Debug("request rate limited",
		"rule", rule,
		"path", r.URL.Path,
		"retry_after", retryAfter,
	)
	WriteTooManyRequests(w, retryAfter)
}

// WriteTooManyRequests writes the 429 wire format shared by every admission
// point: a Retry-After header and {"detail", "retry_after"} JSON body.
func WriteTooManyRequests(w http.ResponseWriter, retryAfter float64) {
	ra := RetryAfterSeconds(retryAfter)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Retry-After", strconv.Itoa(ra))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"detail":      "Too Many Requests",
		"retry_after": ra,
	})
}

// RetryAfterSeconds rounds a retry-after hint up to whole seconds.
func RetryAfterSeconds(retryAfter float64) int {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return int(math.Ceil(retryAfter))
}

func rpmToRPS(rpm int) float64 {
	return float64(rpm) / 60.0
}

func secondsToDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
