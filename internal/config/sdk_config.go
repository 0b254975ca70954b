// Package config provides configuration management for the Vertex proxy server.
// It handles loading and parsing YAML configuration files and environment overrides,
// and provides structured access to application settings including the listening
// address, Google Cloud project and region, credential material, and logging options.
package config

import "crypto/subtle"

// SDKConfig holds the settings shared by the HTTP edge and the outbound executor.
type SDKConfig struct {
	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	// Supported schemes are http, https and socks5.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// RequestLog enables debug logging of upstream requests with sensitive headers redacted.
	RequestLog bool `yaml:"request-log" json:"request-log"`

	// APIKeys is a list of keys for authenticating clients to this proxy server.
	// An empty list disables inbound authentication.
	APIKeys []string `yaml:"api-keys" json:"api-keys"`
}

// HasAPIKey reports whether key matches one of the configured inbound keys.
// Every configured key is compared in constant time.
func (c *SDKConfig) HasAPIKey(key string) bool {
	if c == nil || key == "" {
		return false
	}
	matched := 0
	for _, k := range c.APIKeys {
		if k == "" {
			continue
		}
		matched |= subtle.ConstantTimeCompare([]byte(k), []byte(key))
	}
	return matched == 1
}
