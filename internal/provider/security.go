package provider

import (
	"fmt"
	"net"
	"net/url"
)

// ValidateBaseURL rejects base URLs that could be used to redirect an
// outbound call at an internal service (SSRF). Loopback, private, and
// link-local hosts are rejected unless allowPrivate is set.
func ValidateBaseURL(raw string, allowPrivate bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base url must use http or https")
	}
	if u.User != nil {
		return fmt.Errorf("base url must not contain userinfo")
	}
	if u.RawQuery != "" {
		return fmt.Errorf("base url must not contain a query string")
	}
	if u.Fragment != "" {
		return fmt.Errorf("base url must not contain a fragment")
	}
	if allowPrivate {
		return nil
	}
	if isPrivateOrLoopbackHost(u.Hostname()) {
		return fmt.Errorf("base url resolves to a private or loopback host")
	}
	return nil
}

func isPrivateOrLoopbackHost(host string) bool {
	ips, err := net.LookupIP(host)
	if err != nil {
		// Fall back to literal parsing; unresolved hostnames are allowed
		// through to the HTTP client, which will fail the connection itself.
		if ip := net.ParseIP(host); ip != nil {
			return ipIsPrivate(ip)
		}
		return false
	}
	for _, ip := range ips {
		if ipIsPrivate(ip) {
			return true
		}
	}
	return false
}

func ipIsPrivate(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified()
}
