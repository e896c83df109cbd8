package cfg

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/perch/internal/relay"
	"github.com/linnemanlabs/perch/internal/routing"
)

//go:embed default_relay.yaml
var defaultRelayYAML []byte

// RelayFile is the on-disk relay configuration: channel policies, message
// templates and routing maps.
type RelayFile struct {
	DocsURL             string              `yaml:"docs_url"`
	RepositoryURLFormat string              `yaml:"repository_url_format"`
	Primary             PrimaryChannels     `yaml:"primary"`
	Templates           Templates           `yaml:"templates"`
	Channels            []ChannelEntry      `yaml:"channels"`
	Repositories        map[string][]string `yaml:"repositories"`
	Users               map[string][]string `yaml:"users"`
	Services            map[string][]string `yaml:"services"`
}

// PrimaryChannels names the channel every event of a kind goes to first.
type PrimaryChannels struct {
	Incident string `yaml:"incident"`
	Review   string `yaml:"review"`
	Push     string `yaml:"push"`
}

// Templates overrides the incident message templates. Empty fields keep the defaults.
type Templates struct {
	FirstParty string `yaml:"first_party"`
	ThirdParty string `yaml:"third_party"`
}

// ChannelEntry is one channel's incident policy.
type ChannelEntry struct {
	Channel  string `yaml:"channel"`
	Audience string `yaml:"audience"`
	High     string `yaml:"high"`
	Medium   string `yaml:"medium"`
	Low      string `yaml:"low"`
}

// DefaultRelayFile returns the built-in configuration.
func DefaultRelayFile() (*RelayFile, error) {
	return ParseRelayFile(defaultRelayYAML)
}

// LoadRelayFile reads path, or the built-in configuration when path is empty,
// and validates it.
func LoadRelayFile(path string) (*RelayFile, error) {
	if path == "" {
		return DefaultRelayFile()
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("read relay config: %w", err)
	}
	return ParseRelayFile(data)
}

// ParseRelayFile decodes and validates a relay configuration document.
// Unknown keys are rejected.
func ParseRelayFile(data []byte) (*RelayFile, error) {
	var rf RelayFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil {
		return nil, fmt.Errorf("parse relay config: %w", err)
	}
	if err := rf.Validate(); err != nil {
		return nil, fmt.Errorf("validate relay config: %w", err)
	}
	return &rf, nil
}

// Validate checks that the policies parse, the primaries are set and every
// channel an incident can reach has a policy.
func (rf *RelayFile) Validate() error {
	var errs []error

	if rf.Primary.Incident == "" {
		errs = append(errs, errors.New("primary.incident is required"))
	}
	if rf.Primary.Review == "" {
		errs = append(errs, errors.New("primary.review is required"))
	}
	if rf.Primary.Push == "" {
		errs = append(errs, errors.New("primary.push is required"))
	}

	ps, err := rf.Policies()
	if err != nil {
		errs = append(errs, err)
	}
	if ps != nil {
		if rf.Primary.Incident != "" {
			if _, err := ps.Lookup(rf.Primary.Incident); err != nil {
				errs = append(errs, fmt.Errorf("primary.incident: %w", err))
			}
		}
		for _, svc := range sortedNames(rf.Services) {
			for _, ch := range rf.Services[svc] {
				if _, err := ps.Lookup(ch); err != nil {
					errs = append(errs, fmt.Errorf("services.%s: %w", svc, err))
				}
			}
		}
	}

	if _, err := rf.Renderer(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Policies converts the channel entries into a relay.PolicySet.
func (rf *RelayFile) Policies() (*relay.PolicySet, error) {
	if len(rf.Channels) == 0 {
		return nil, errors.New("at least one channel policy is required")
	}
	policies := make([]relay.ChannelPolicy, 0, len(rf.Channels))
	for _, e := range rf.Channels {
		policies = append(policies, relay.ChannelPolicy{
			Channel:  e.Channel,
			Audience: relay.Audience(e.Audience),
			High:     relay.Action(e.High),
			Medium:   relay.Action(e.Medium),
			Low:      relay.Action(e.Low),
		})
	}
	return relay.NewPolicySet(policies...)
}

// Renderer builds the incident renderer, falling back to the default templates.
func (rf *RelayFile) Renderer() (*relay.Renderer, error) {
	first, third := rf.Templates.FirstParty, rf.Templates.ThirdParty
	if first == "" {
		first = relay.DefaultFirstPartyTemplate
	}
	if third == "" {
		third = relay.DefaultThirdPartyTemplate
	}
	return relay.NewRenderer(first, third, rf.DocsURL)
}

// RoutingConfig returns the routing maps for routing.Build.
func (rf *RelayFile) RoutingConfig() routing.Config {
	return routing.Config{
		Repositories:        rf.Repositories,
		Users:               rf.Users,
		Services:            rf.Services,
		RepositoryURLFormat: rf.RepositoryURLFormat,
	}
}

// RelayChannels returns the primaries in relay form.
func (rf *RelayFile) RelayChannels() relay.Channels {
	return relay.Channels{
		Incident: rf.Primary.Incident,
		Review:   rf.Primary.Review,
		Push:     rf.Primary.Push,
	}
}

func sortedNames(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
