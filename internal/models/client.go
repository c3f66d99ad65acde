package models

import (
	"strings"
)

// Permission names checked by the admin API
const (
	PermMissionsRead  = "missions:read"
	PermMissionsWrite = "missions:write"
	PermSyncRead      = "sync:read"
	PermSyncWrite     = "sync:write"
	PermEventsRead    = "events:read"
)

// ReadOnlyPermissions are granted to read-only API keys
var ReadOnlyPermissions = []string{PermMissionsRead, PermSyncRead, PermEventsRead}

// ApiClient represents an authenticated API client
type ApiClient struct {
	Name        string   `json:"name"`
	ApiKey      string   `json:"-"` // Never serialize
	IsActive    bool     `json:"is_active"`
	Permissions []string `json:"permissions"`
}

// ParseApiClient builds a client from a "name:key" or bare "key" entry
func ParseApiClient(entry string, permissions []string) *ApiClient {
	entry = strings.TrimSpace(entry)
	name, key, ok := strings.Cut(entry, ":")
	if !ok {
		key = entry
		name = ""
	}
	c := &ApiClient{
		Name:        strings.TrimSpace(name),
		ApiKey:      strings.TrimSpace(key),
		IsActive:    true,
		Permissions: permissions,
	}
	if c.Name == "" {
		c.Name = c.MaskedApiKey()
	}
	return c
}

// HasPermission checks if client has specific permission
// Supports wildcard permissions like "missions:*"
func (c *ApiClient) HasPermission(required string) bool {
	if c == nil || !c.IsActive {
		return false
	}

	for _, perm := range c.Permissions {
		// Exact match
		if perm == required {
			return true
		}

		// Wildcard match (e.g., "missions:*" matches "missions:read")
		if strings.HasSuffix(perm, ":*") {
			prefix := strings.TrimSuffix(perm, "*")
			if strings.HasPrefix(required, prefix) {
				return true
			}
		}

		// Global wildcard
		if perm == "*" {
			return true
		}
	}

	return false
}

// MaskedApiKey returns first 8 characters of API key for logging
func (c *ApiClient) MaskedApiKey() string {
	if len(c.ApiKey) < 8 {
		return "***"
	}
	return c.ApiKey[:8] + "..."
}
