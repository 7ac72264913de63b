package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default("acme")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "acme", cfg.Organization.ID)
	assert.Equal(t, 20, cfg.Simulation.DonorLimit)
	assert.Contains(t, cfg.RBAC.Roles, "owner")
	assert.Contains(t, cfg.RBAC.Roles["viewer"].Permissions, "donor.read")
	assert.NotContains(t, cfg.RBAC.Roles["viewer"].Permissions, "donor.write")
}

func TestFromYAMLRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"missing org":   "simulation:\n  speed: 3\n",
		"speed":         "organization:\n  id: a\nsimulation:\n  speed: 11\n",
		"activity type": "organization:\n  id: a\nsimulation:\n  activity_types: [PHONE_BANK]\n",
		"no owner":      "organization:\n  id: a\nrbac:\n  roles:\n    viewer:\n      permissions: [donor.read]\n",
		"webhook url":   "organization:\n  id: a\nwebhooks:\n  - id: h1\n    url: ftp://x\n",
		"dup webhook":   "organization:\n  id: a\nwebhooks:\n  - id: h1\n    url: http://x\n  - id: h1\n    url: http://y\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	cfg := Default("acme")
	raw, err := cfg.YAML()
	require.NoError(t, err)
	parsed, err := FromYAML(raw)
	require.NoError(t, err)
	assert.Equal(t, cfg.Simulation, parsed.Simulation)
}

func TestWebhookAccepts(t *testing.T) {
	all := Webhook{ID: "a"}
	assert.True(t, all.Accepts("donor.created"))

	donors := Webhook{ID: "b", Events: []string{"donor.*", "simulation.started"}}
	assert.True(t, donors.Accepts("donor.updated"))
	assert.True(t, donors.Accepts("simulation.started"))
	assert.False(t, donors.Accepts("donation.recorded"))
}
