package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models an organization's donorline.yml.
type Config struct {
	Organization struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name" json:"name"`
	} `yaml:"organization" json:"organization"`
	Simulation SimulationDefaults `yaml:"simulation" json:"simulation"`
	RBAC       struct {
		Roles map[string]RBACRole `yaml:"roles" json:"roles"`
	} `yaml:"rbac" json:"rbac"`
	Webhooks []Webhook `yaml:"webhooks" json:"webhooks,omitempty"`
}

// SimulationDefaults fill in start requests that omit fields.
type SimulationDefaults struct {
	DonorLimit    int      `yaml:"donor_limit" json:"donor_limit"`
	Speed         int      `yaml:"speed" json:"speed"`
	Realism       float64  `yaml:"realism" json:"realism"`
	ActivityTypes []string `yaml:"activity_types" json:"activity_types"`
}

type RBACRole struct {
	Description string   `yaml:"description" json:"description"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

// Webhook is a feed sink receiving the organization's audit events.
type Webhook struct {
	ID     string   `yaml:"id" json:"id"`
	URL    string   `yaml:"url" json:"url"`
	Secret string   `yaml:"secret" json:"secret,omitempty"`
	Events []string `yaml:"events" json:"events,omitempty"`
}

// Accepts reports whether the hook subscribes to evtType. An empty list subscribes to all.
func (w Webhook) Accepts(evtType string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == evtType || (strings.HasSuffix(e, ".*") && strings.HasPrefix(evtType, strings.TrimSuffix(e, "*"))) {
			return true
		}
	}
	return false
}

var knownActivityTypes = map[string]bool{"DONATION": true, "COMMUNICATION": true, "MEETING": true, "TASK": true}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Organization.ID == "" {
		return fmt.Errorf("config.organization.id is required")
	}
	s := c.Simulation
	if s.DonorLimit < 0 {
		return fmt.Errorf("config.simulation.donor_limit must be >= 0")
	}
	if s.Speed < 0 || s.Speed > 10 {
		return fmt.Errorf("config.simulation.speed must be between 0 and 10")
	}
	if s.Realism < 0 || s.Realism > 1 {
		return fmt.Errorf("config.simulation.realism must be between 0 and 1")
	}
	for _, t := range s.ActivityTypes {
		if !knownActivityTypes[t] {
			return fmt.Errorf("config.simulation.activity_types contains unknown type %s", t)
		}
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["owner"]; !ok {
			return fmt.Errorf("config.rbac.roles must include owner")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	seen := map[string]bool{}
	for i, h := range c.Webhooks {
		if h.ID == "" {
			return fmt.Errorf("config.webhooks[%d].id is required", i)
		}
		if seen[h.ID] {
			return fmt.Errorf("duplicate webhook id %s", h.ID)
		}
		seen[h.ID] = true
		u, err := url.Parse(h.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhook %s has invalid url %q", h.ID, h.URL)
		}
	}
	return nil
}

// GenerateDefault returns default config YAML.
func GenerateDefault(orgID string) string {
	return fmt.Sprintf(defaultTemplate, orgID, orgID)
}

// Default returns the default Config struct for an organization.
func Default(orgID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(orgID))).Decode(&cfg)
	cfg.Organization.ID = orgID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config back to YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `organization:
  id: %s
  name: %s

simulation:
  donor_limit: 20
  speed: 5
  realism: 0.7
  activity_types: [DONATION, COMMUNICATION, MEETING, TASK]

rbac:
  roles:
    owner:
      description: "Full access to the organization"
      permissions:
        - org.read
        - org.update
        - donor.read
        - donor.write
        - donation.read
        - donation.write
        - activity.read
        - activity.write
        - campaign.read
        - campaign.write
        - simulation.run
        - simulation.read
        - rbac.manage
        - events.read
    fundraiser:
      description: "Works donors, gifts and campaigns"
      permissions:
        - org.read
        - donor.read
        - donor.write
        - donation.read
        - donation.write
        - activity.read
        - activity.write
        - campaign.read
        - campaign.write
        - simulation.run
        - simulation.read
        - events.read
    viewer:
      description: "Read-only access"
      permissions:
        - org.read
        - donor.read
        - donation.read
        - activity.read
        - campaign.read
        - simulation.read
`
