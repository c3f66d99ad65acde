package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseApiClient(t *testing.T) {
	c := ParseApiClient(" ops:sk_live_123456789 ", []string{"*"})
	assert.Equal(t, "ops", c.Name)
	assert.Equal(t, "sk_live_123456789", c.ApiKey)
	assert.True(t, c.IsActive)

	bare := ParseApiClient("sk_live_abcdefgh", ReadOnlyPermissions)
	assert.Equal(t, "sk_live_abcdefgh", bare.ApiKey)
	assert.Equal(t, "sk_live_...", bare.Name)
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		perms    []string
		required string
		want     bool
	}{
		{[]string{"*"}, PermSyncWrite, true},
		{[]string{"missions:*"}, PermMissionsWrite, true},
		{[]string{"missions:*"}, PermSyncRead, false},
		{ReadOnlyPermissions, PermMissionsRead, true},
		{ReadOnlyPermissions, PermSyncWrite, false},
		{nil, PermMissionsRead, false},
	}

	for _, tt := range tests {
		c := &ApiClient{IsActive: true, Permissions: tt.perms}
		assert.Equal(t, tt.want, c.HasPermission(tt.required), "%v -> %s", tt.perms, tt.required)
	}

	inactive := &ApiClient{IsActive: false, Permissions: []string{"*"}}
	assert.False(t, inactive.HasPermission(PermMissionsRead))

	var nilClient *ApiClient
	assert.False(t, nilClient.HasPermission(PermMissionsRead))
}

func TestMaskedApiKey(t *testing.T) {
	assert.Equal(t, "***", (&ApiClient{ApiKey: "short"}).MaskedApiKey())
	assert.Equal(t, "sk_live_...", (&ApiClient{ApiKey: "sk_live_secret"}).MaskedApiKey())
}
