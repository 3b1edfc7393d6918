// Package validator provides struct validation utilities with custom validators.
package validator

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// EndpointValidator vets webhook destination URLs before they are accepted.
// By default it blocks loopback, private, link-local, and cloud metadata
// targets so a webhook cannot be pointed at internal infrastructure.
type EndpointValidator struct {
	allowInternalIPs bool
	allowLocalhost   bool
}

// EndpointValidatorOption is a functional option for EndpointValidator.
type EndpointValidatorOption func(*EndpointValidator)

// WithAllowInternalIPs allows private IP addresses (10.x, 172.16.x, 192.168.x).
func WithAllowInternalIPs(allow bool) EndpointValidatorOption {
	return func(v *EndpointValidator) {
		v.allowInternalIPs = allow
	}
}

// WithAllowLocalhost allows loopback addresses. Intended for local development.
func WithAllowLocalhost(allow bool) EndpointValidatorOption {
	return func(v *EndpointValidator) {
		v.allowLocalhost = allow
	}
}

// NewEndpointValidator creates a new EndpointValidator with options.
func NewEndpointValidator(opts ...EndpointValidatorOption) *EndpointValidator {
	v := &EndpointValidator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateEndpoint checks a webhook URL and returns a descriptive error when
// the destination is not acceptable.
func (v *EndpointValidator) ValidateEndpoint(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format")
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("only http and https schemes are allowed")
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no host")
	}

	if !v.allowLocalhost && isLocalhostHostname(host) {
		return fmt.Errorf("localhost addresses are not allowed")
	}

	if ip := net.ParseIP(host); ip != nil {
		if !v.allowLocalhost && ip.IsLoopback() {
			return fmt.Errorf("localhost addresses are not allowed")
		}
		if isMetadataIP(ip) {
			return fmt.Errorf("cloud metadata addresses are not allowed")
		}
		if !v.allowInternalIPs && isInternalIP(ip) {
			return fmt.Errorf("internal IP addresses are not allowed")
		}
	}

	return nil
}

// isLocalhostHostname checks if the hostname is a localhost variant.
func isLocalhostHostname(hostname string) bool {
	hostname = strings.ToLower(hostname)
	return hostname == "localhost" ||
		hostname == "localhost.localdomain" ||
		strings.HasSuffix(hostname, ".localhost")
}

// isInternalIP checks if the IP is a private/internal address.
func isInternalIP(ip net.IP) bool {
	if ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}
	return false
}

// isMetadataIP checks the well-known cloud metadata endpoints.
func isMetadataIP(ip net.IP) bool {
	metadata := []string{
		"169.254.169.254", // AWS/GCP/Azure
		"fd00:ec2::254",   // AWS IPv6
	}
	for _, m := range metadata {
		if ip.Equal(net.ParseIP(m)) {
			return true
		}
	}
	return false
}
