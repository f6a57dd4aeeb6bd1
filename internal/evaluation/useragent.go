package evaluation

import (
	"strings"

	"gatehouse/internal/dynamic"
)

// uaDerive answers ua_based conditions when the user did not supply the field
// directly. It is a conservative substring scan over the user-agent string;
// embedders needing full device taxonomies should populate the fields on the
// user instead.
func uaDerive(userAgent, field string) *dynamic.Value {
	if userAgent == "" {
		return nil
	}
	var out string
	switch strings.ToLower(field) {
	case "os_name", "osname":
		out = uaOSName(userAgent)
	case "os_version", "osversion":
		out = uaVersionAfter(userAgent, uaOSVersionMarkers)
	case "browser_name", "browsername":
		out = uaBrowserName(userAgent)
	case "browser_version", "browserversion":
		out = uaVersionAfter(userAgent, uaBrowserVersionMarkers)
	}
	if out == "" {
		return nil
	}
	v := dynamic.FromString(out)
	return &v
}

func uaOSName(ua string) string {
	switch {
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"):
		return "iOS"
	case strings.Contains(ua, "Mac OS X"):
		return "Mac OS X"
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	}
	return ""
}

func uaBrowserName(ua string) string {
	switch {
	case strings.Contains(ua, "Edg/"), strings.Contains(ua, "Edge/"):
		return "Edge"
	case strings.Contains(ua, "OPR/"), strings.Contains(ua, "Opera"):
		return "Opera"
	case strings.Contains(ua, "Chrome/"):
		return "Chrome"
	case strings.Contains(ua, "Firefox/"):
		return "Firefox"
	case strings.Contains(ua, "Safari/"):
		return "Safari"
	}
	return ""
}

var uaOSVersionMarkers = []string{"Windows NT ", "Mac OS X ", "Android ", "iPhone OS ", "CPU OS "}

var uaBrowserVersionMarkers = []string{"Edg/", "Edge/", "OPR/", "Chrome/", "Firefox/", "Version/"}

// uaVersionAfter extracts the dotted version following the first matching
// marker. Underscores become dots (Apple encodes "10_15_7").
func uaVersionAfter(ua string, markers []string) string {
	for _, m := range markers {
		i := strings.Index(ua, m)
		if i < 0 {
			continue
		}
		rest := ua[i+len(m):]
		end := 0
		for end < len(rest) {
			c := rest[end]
			if (c < '0' || c > '9') && c != '.' && c != '_' {
				break
			}
			end++
		}
		if end == 0 {
			continue
		}
		return strings.ReplaceAll(rest[:end], "_", ".")
	}
	return ""
}
