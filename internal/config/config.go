// Package config loads and validates main.yml and subnets.yml, and
// materializes their contents into the runtime subnet registry and static
// allocation set the rest of the server consumes.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lion7/dhcpd/internal/alloc"
	"github.com/lion7/dhcpd/internal/dhcp4"
	"github.com/lion7/dhcpd/internal/hwaddr"
	"github.com/lion7/dhcpd/internal/subnet"
)

// ErrConfig is the sentinel every configuration-loading failure wraps, so
// callers can tell a ConfigError (per the error-kind taxonomy) apart from
// any other error without string matching.
var ErrConfig = errors.New("config: invalid configuration")

// MainConfig is main.yml's shape: which network interface identifies this
// server.
type MainConfig struct {
	Network struct {
		Interface string `yaml:"interface"`
	} `yaml:"network"`
}

// LoadMain reads and validates main.yml.
func LoadMain(path string) (*MainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConfig, path, err)
	}
	var cfg MainConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfig, path, err)
	}
	if cfg.Network.Interface == "" {
		return nil, fmt.Errorf("%w: %s: network.interface is required", ErrConfig, path)
	}
	return &cfg, nil
}

// SubnetSpec is one entry's subnet half: {network, prefix, options}.
type SubnetSpec struct {
	Network string      `yaml:"network"`
	Prefix  uint8       `yaml:"prefix"`
	Options OptionsSpec `yaml:"options"`
}

// AllocationSpec is one static reservation: a hardware/client address
// bound permanently to an IP, with its own option overlay.
type AllocationSpec struct {
	IPAddr  string      `yaml:"ip_addr"`
	HWAddr  string      `yaml:"hw_addr"`
	Options OptionsSpec `yaml:"options"`
}

// StaticAllocsSpec is one entry's static-allocation half.
type StaticAllocsSpec struct {
	OnlyStatic  bool             `yaml:"only_static"`
	Allocations []AllocationSpec `yaml:"allocations"`
}

// SubnetEntry is one `[ <subnet>, <static_allocs> ]` pair from subnets.yml.
// subnets.yml encodes each entry as a 2-element YAML sequence rather than a
// mapping (carried over verbatim from the original's tuple-based
// serialization), so UnmarshalYAML decodes it positionally.
type SubnetEntry struct {
	Subnet       SubnetSpec
	StaticAllocs StaticAllocsSpec
}

func (e *SubnetEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode || len(node.Content) != 2 {
		return fmt.Errorf("%w: subnets.yml entry must be a 2-element list [subnet, static_allocs]", ErrConfig)
	}
	if err := node.Content[0].Decode(&e.Subnet); err != nil {
		return fmt.Errorf("%w: decoding subnet: %v", ErrConfig, err)
	}
	if err := node.Content[1].Decode(&e.StaticAllocs); err != nil {
		return fmt.Errorf("%w: decoding static_allocs: %v", ErrConfig, err)
	}
	return nil
}

// SubnetsConfig is subnets.yml's shape.
type SubnetsConfig struct {
	Defaults OptionsSpec   `yaml:"defaults"`
	Subnets  []SubnetEntry `yaml:"subnets"`
}

// LoadSubnets reads and parses subnets.yml. It does not validate
// cross-references (subnet/allocation consistency) — that happens in
// Materialize, which is also what the hot-reload watcher re-runs.
func LoadSubnets(path string) (*SubnetsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConfig, path, err)
	}
	var cfg SubnetsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfig, path, err)
	}
	if len(cfg.Subnets) == 0 {
		return nil, fmt.Errorf("%w: subnets.yml: at least one subnet is required", ErrConfig)
	}
	return &cfg, nil
}

// parsedSubnet is one subnet entry after CIDR/option validation, still
// detached from any live subnet.Map.
type parsedSubnet struct {
	cidr     subnet.CIDR
	defaults *dhcp4.Options
	allocs   []*alloc.StaticAllocation
}

// parse validates cfg's cross-references that a bare YAML decode can't
// catch: subnet fields must form a valid CIDR, every static allocation's
// address must parse, and every hardware address must parse. It performs
// no I/O and touches no live state, so it's safe to call speculatively
// before committing a reload.
func parse(cfg *SubnetsConfig) ([]parsedSubnet, error) {
	defaults, err := cfg.Defaults.ToOptions()
	if err != nil {
		return nil, fmt.Errorf("%w: defaults: %v", ErrConfig, err)
	}

	parsed := make([]parsedSubnet, 0, len(cfg.Subnets))
	for _, entry := range cfg.Subnets {
		ip := net.ParseIP(entry.Subnet.Network)
		if ip == nil {
			return nil, fmt.Errorf("%w: subnet network %q is not a valid IPv4 address", ErrConfig, entry.Subnet.Network)
		}
		cidr, err := subnet.NewCIDR(ip, entry.Subnet.Prefix)
		if err != nil {
			return nil, fmt.Errorf("%w: subnet %s/%d: %v", ErrConfig, entry.Subnet.Network, entry.Subnet.Prefix, err)
		}

		options, err := entry.Subnet.Options.ToOptions()
		if err != nil {
			return nil, fmt.Errorf("%w: subnet %s/%d options: %v", ErrConfig, entry.Subnet.Network, entry.Subnet.Prefix, err)
		}
		merged := defaults.Clone()
		merged.Merge(options)

		ps := parsedSubnet{cidr: cidr, defaults: merged}
		for _, a := range entry.StaticAllocs.Allocations {
			addr := net.ParseIP(a.IPAddr)
			if addr == nil {
				return nil, fmt.Errorf("%w: allocation ip_addr %q is not a valid IPv4 address", ErrConfig, a.IPAddr)
			}
			mac, err := net.ParseMAC(a.HWAddr)
			if err != nil {
				return nil, fmt.Errorf("%w: allocation hw_addr %q: %v", ErrConfig, a.HWAddr, err)
			}
			allocOptions, err := a.Options.ToOptions()
			if err != nil {
				return nil, fmt.Errorf("%w: allocation for %s options: %v", ErrConfig, a.HWAddr, err)
			}
			allocMerged := merged.Clone()
			allocMerged.Merge(allocOptions)
			allocMerged.SetRequestedIP(addr)
			if mask, ok := merged.SubnetMask(); ok {
				allocMerged.SetSubnetMask(mask)
			}

			ps.allocs = append(ps.allocs, &alloc.StaticAllocation{
				CID:     hwaddr.FromMAC(mac),
				IPAddr:  addr,
				Options: allocMerged,
			})
		}
		parsed = append(parsed, ps)
	}

	return parsed, nil
}

// Runtime is the materialized result of a SubnetsConfig: the populated
// Subnet Map and the flat list of static allocations registered against
// it, in the shape the Static Allocator's ReplaceAll expects.
type Runtime struct {
	Subnets     *subnet.Map
	Allocations []*alloc.StaticAllocation
}

// Materialize populates subnets from cfg and returns the resulting
// Runtime. subnets MUST be the same *subnet.Map instance the Static and
// Dynamic Allocators were constructed with — Materialize mutates it in
// place rather than building its own, so that every collaborator keeps
// looking up the same live *Subnet objects. Used once at startup; a reload
// after startup calls applyTo (below) directly, the same function
// Materialize delegates to, which keeps the allocation state of a subnet
// that already exists in the map.
func Materialize(subnets *subnet.Map, cfg *SubnetsConfig) (*Runtime, error) {
	allocations, err := applyTo(cfg, subnets)
	if err != nil {
		return nil, err
	}
	return &Runtime{Subnets: subnets, Allocations: allocations}, nil
}

// applyTo updates subnets in place: an existing subnet (matched by CIDR)
// has its default options replaced via SetDefaults; a newly configured one
// is inserted. A subnet removed from cfg is left alone rather than evicted,
// so addresses already leased from it keep working until they expire.
func applyTo(cfg *SubnetsConfig, subnets *subnet.Map) ([]*alloc.StaticAllocation, error) {
	parsed, err := parse(cfg)
	if err != nil {
		return nil, err
	}

	var allocations []*alloc.StaticAllocation
	for _, ps := range parsed {
		if existing, ok := subnets.Get(ps.cidr); ok {
			existing.SetDefaults(ps.defaults)
		} else if err := subnets.Insert(subnet.New(ps.cidr, ps.defaults)); err != nil {
			return nil, fmt.Errorf("%w: subnet %s: %v", ErrConfig, ps.cidr, err)
		}
		allocations = append(allocations, ps.allocs...)
	}
	return allocations, nil
}
