package analytics

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	headerVercelCountry   = "X-Vercel-IP-Country"
	headerVercelRegion    = "X-Vercel-IP-Country-Region"
	headerVercelCity      = "X-Vercel-IP-City"
	headerVercelLatitude  = "X-Vercel-IP-Latitude"
	headerVercelLongitude = "X-Vercel-IP-Longitude"
	headerCloudflareGeo   = "CF-IPCountry"
)

// LocationFromHeaders reads the geolocation headers set by the edge proxy.
func LocationFromHeaders(header http.Header) Location {
	location := Location{
		Country:   strings.TrimSpace(header.Get(headerVercelCountry)),
		Region:    strings.TrimSpace(header.Get(headerVercelRegion)),
		City:      decodeHeaderValue(header.Get(headerVercelCity)),
		Latitude:  strings.TrimSpace(header.Get(headerVercelLatitude)),
		Longitude: strings.TrimSpace(header.Get(headerVercelLongitude)),
	}
	if location.Country == "" {
		country := strings.TrimSpace(header.Get(headerCloudflareGeo))
		// XX and T1 are Cloudflare's unknown and Tor markers.
		if country != "XX" && country != "T1" {
			location.Country = country
		}
	}
	return location
}

func decodeHeaderValue(raw string) string {
	trimmed := strings.TrimSpace(raw)
	decoded, err := url.QueryUnescape(trimmed)
	if err != nil {
		return trimmed
	}
	return decoded
}
