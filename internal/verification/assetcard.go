// Package verification runs the certification check suite against an
// agent's asset card and produces the verification report that feeds
// certificate generation. Checks are registered by name with a minimum
// level; a check failure never aborts the run, it is recorded and
// collapses the achieved level instead.
package verification

import (
	"fmt"
	"os"
	"strings"

	"github.com/aigos-io/aigos/internal/aigerr"
	"github.com/aigos-io/aigos/internal/cga"
	"github.com/aigos-io/aigos/internal/goldenthread"
	"github.com/aigos-io/aigos/internal/killswitch"
	"github.com/aigos-io/aigos/internal/spawn"
	"gopkg.in/yaml.v3"
)

// AssetCardKind is the document kind of an agent asset card.
const AssetCardKind = "AgentAssetCard"

// ChannelDecl declares one kill-switch channel on an asset card.
type ChannelDecl struct {
	Type            killswitch.ChannelType `json:"type"                       yaml:"type"`
	Endpoint        string                 `json:"endpoint,omitempty"         yaml:"endpoint,omitempty"`
	CommandEndpoint string                 `json:"command_endpoint,omitempty" yaml:"command_endpoint,omitempty"`
	StreamEndpoint  string                 `json:"stream_endpoint,omitempty"  yaml:"stream_endpoint,omitempty"`
	Dir             string                 `json:"dir,omitempty"              yaml:"dir,omitempty"`
}

// KillSwitchSpec is the asset card's kill-switch declaration.
type KillSwitchSpec struct {
	Channels  []ChannelDecl `json:"channels"             yaml:"channels"`
	TimeoutMS int64         `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// PolicyEngineSpec declares the agent's policy-engine posture.
type PolicyEngineSpec struct {
	Mode string `json:"mode" yaml:"mode"` // "strict" or "permissive"
}

// ComplianceSpec lists the frameworks the agent maps its controls to.
type ComplianceSpec struct {
	Frameworks []string `json:"frameworks" yaml:"frameworks"`
}

// CapabilitySpec declares the agent's capability bounds.
type CapabilitySpec struct {
	AllowedTools   []string       `json:"allowed_tools,omitempty"   yaml:"allowed_tools,omitempty"`
	AllowedDomains []string       `json:"allowed_domains,omitempty" yaml:"allowed_domains,omitempty"`
	DeniedDomains  []string       `json:"denied_domains,omitempty"  yaml:"denied_domains,omitempty"`
	Budgets        *spawn.Budgets `json:"budgets,omitempty"         yaml:"budgets,omitempty"`
}

// TelemetrySpec declares where the agent emits runtime telemetry.
type TelemetrySpec struct {
	Enabled  bool   `json:"enabled"            yaml:"enabled"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

// AssetMetadata identifies the agent the card describes.
type AssetMetadata struct {
	ID           string `json:"id"           yaml:"id"`
	Name         string `json:"name"         yaml:"name"`
	Version      string `json:"version"      yaml:"version"`
	Organization string `json:"organization" yaml:"organization"`
}

// AssetSpec is the governance surface an asset card declares.
type AssetSpec struct {
	RiskLevel              cga.RiskLevel `json:"risk_level,omitempty"    yaml:"risk_level,omitempty"`
	goldenthread.AssetLike `yaml:",inline"`
	KillSwitch             *KillSwitchSpec   `json:"kill_switch,omitempty"   yaml:"kill_switch,omitempty"`
	PolicyEngine           *PolicyEngineSpec `json:"policy_engine,omitempty" yaml:"policy_engine,omitempty"`
	Compliance             *ComplianceSpec   `json:"compliance,omitempty"    yaml:"compliance,omitempty"`
	Capabilities           *CapabilitySpec   `json:"capabilities,omitempty"  yaml:"capabilities,omitempty"`
	Telemetry              *TelemetrySpec    `json:"telemetry,omitempty"     yaml:"telemetry,omitempty"`
}

// AssetCard is the agent's self-declared governance document, the input
// to every verification run.
type AssetCard struct {
	APIVersion string        `json:"apiVersion" yaml:"apiVersion"`
	Kind       string        `json:"kind"       yaml:"kind"`
	Metadata   AssetMetadata `json:"metadata"   yaml:"metadata"`
	Spec       AssetSpec     `json:"spec"       yaml:"spec"`
}

// ParseAssetCard decodes a YAML (or JSON, YAML being a superset) card
// and validates its shape.
func ParseAssetCard(raw []byte) (*AssetCard, error) {
	var card AssetCard
	if err := yaml.Unmarshal(raw, &card); err != nil {
		return nil, aigerr.Wrap(aigerr.BadFormat, err, "parse asset card")
	}
	if err := card.Validate(); err != nil {
		return nil, err
	}
	return &card, nil
}

// LoadAssetCard reads and parses the card at path.
func LoadAssetCard(path string) (*AssetCard, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, aigerr.Wrap(aigerr.BadFormat, err, "read asset card %s", path)
	}
	return ParseAssetCard(raw)
}

// Validate checks the card's structural invariants.
func (c *AssetCard) Validate() error {
	var problems []string
	if c.Kind != AssetCardKind {
		problems = append(problems, fmt.Sprintf("kind must be %q, got %q", AssetCardKind, c.Kind))
	}
	if strings.TrimSpace(c.Metadata.ID) == "" {
		problems = append(problems, "metadata.id is required")
	}
	if strings.TrimSpace(c.Metadata.Version) == "" {
		problems = append(problems, "metadata.version is required")
	}
	if strings.TrimSpace(c.Metadata.Organization) == "" {
		problems = append(problems, "metadata.organization is required")
	}
	if c.Spec.RiskLevel != "" && !c.Spec.RiskLevel.Valid() {
		problems = append(problems, fmt.Sprintf("spec.risk_level %q is not a known risk level", c.Spec.RiskLevel))
	}
	if len(problems) > 0 {
		return aigerr.New(aigerr.SchemaViolation, "asset card invalid: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Build materialises the declared kill-switch channels.
func (s *KillSwitchSpec) Build() ([]killswitch.Channel, error) {
	out := make([]killswitch.Channel, 0, len(s.Channels))
	for _, decl := range s.Channels {
		switch decl.Type {
		case killswitch.Polling:
			out = append(out, &killswitch.PollingChannel{Endpoint: decl.Endpoint})
		case killswitch.WebSocket:
			out = append(out, &killswitch.WebSocketChannel{Endpoint: decl.Endpoint})
		case killswitch.SSE:
			out = append(out, &killswitch.SSEChannel{
				CommandEndpoint: decl.CommandEndpoint,
				StreamEndpoint:  decl.StreamEndpoint,
			})
		case killswitch.LocalFile:
			out = append(out, &killswitch.LocalFileChannel{Dir: decl.Dir})
		default:
			return nil, aigerr.New(aigerr.SchemaViolation, "unknown kill-switch channel type %q", decl.Type)
		}
	}
	return out, nil
}
