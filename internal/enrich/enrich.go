package enrich

import (
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"
	"github.com/oschwald/geoip2-golang"

	"github.com/sessionsieve/sessionsieve/internal/envelope"
)

// Enricher derives device and geo context from ingest request metadata. The
// GeoIP database is optional; without it enrichment is user-agent only.
type Enricher struct {
	geoIP *geoip2.Reader
}

func NewEnricher(geoIPPath string) *Enricher {
	var geoIP *geoip2.Reader
	if geoIPPath != "" {
		geoIP, _ = geoip2.Open(geoIPPath)
	}
	return &Enricher{geoIP: geoIP}
}

// Device builds the device context for one request. Empty inputs yield a
// zero context; callers attach it to the envelope only when non-zero.
func (e *Enricher) Device(userAgentString, clientIP string) envelope.DeviceContext {
	var d envelope.DeviceContext

	if userAgentString != "" {
		ua := useragent.New(userAgentString)
		d.Browser, d.BrowserVersion = ua.Browser()
		d.OS = ua.OS()
		d.DeviceType = deviceType(ua)
	}

	if e.geoIP != nil && clientIP != "" {
		if ip := net.ParseIP(clientIP); ip != nil {
			if record, err := e.geoIP.City(ip); err == nil {
				d.Country = record.Country.IsoCode
				if name, ok := record.City.Names["en"]; ok {
					d.City = name
				}
			}
		}
	}

	return d
}

func deviceType(ua *useragent.UserAgent) string {
	if ua.Mobile() {
		return "mobile"
	}
	if ua.Bot() {
		return "bot"
	}
	return "desktop"
}

// ClientIP extracts the caller address, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		// First hop is the client.
		if idx := strings.IndexByte(ip, ','); idx > 0 {
			return strings.TrimSpace(ip[:idx])
		}
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (e *Enricher) Close() {
	if e.geoIP != nil {
		e.geoIP.Close()
	}
}
