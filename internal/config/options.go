package config

import (
	"fmt"
	"net"

	"github.com/lion7/dhcpd/internal/dhcp4"
)

// OptionsSpec is the YAML shape of a DhcpOptions record: one named field
// per option this server understands, all optional. It is used both for
// subnets.yml's top-level `defaults` and for each subnet's own `options`
// overlay, and for a static allocation's per-client overlay.
type OptionsSpec struct {
	SubnetMask     string   `yaml:"subnet_mask,omitempty"`
	Routers        []string `yaml:"routers,omitempty"`
	TimeServers    []string `yaml:"time_servers,omitempty"`
	NameServers    []string `yaml:"name_servers,omitempty"`
	DNSServers     []string `yaml:"dns_servers,omitempty"`
	LogServers     []string `yaml:"log_servers,omitempty"`
	HostName       string   `yaml:"host_name,omitempty"`
	DomainName     string   `yaml:"domain_name,omitempty"`
	InterfaceMTU   *uint16  `yaml:"interface_mtu,omitempty"`
	BroadcastAddr  string   `yaml:"broadcast_addr,omitempty"`
	StaticRoutes   []string `yaml:"static_routes,omitempty"`
	NTPServers     []string `yaml:"ntp_servers,omitempty"`
	VendorSpecific string   `yaml:"vendor_specific,omitempty"`
	RequestedIP    string   `yaml:"requested_ip,omitempty"`
	LeaseTime      *uint32  `yaml:"lease_time,omitempty"`
	RenewalTime    *uint32  `yaml:"renewal_time,omitempty"`
	RebindingTime  *uint32  `yaml:"rebinding_time,omitempty"`
	VendorClassID  string   `yaml:"vendor_class_id,omitempty"`
	TFTPServerName string   `yaml:"tftp_server_name,omitempty"`
	BootfileName   string   `yaml:"bootfile_name,omitempty"`
	DomainSearch   []string `yaml:"domain_search,omitempty"`
	WPAD           string   `yaml:"wpad,omitempty"`
}

// ToOptions converts the YAML spec into a runtime DhcpOptions record.
// Malformed addresses are a ConfigError, since this only ever runs over
// administrator-supplied configuration.
func (s OptionsSpec) ToOptions() (*dhcp4.Options, error) {
	o := dhcp4.NewOptions()

	if s.SubnetMask != "" {
		ip, err := parseIP(s.SubnetMask)
		if err != nil {
			return nil, fmt.Errorf("%w: subnet_mask: %v", ErrConfig, err)
		}
		o.SetSubnetMask(ip)
	}
	if ips, err := parseIPList(s.Routers); err != nil {
		return nil, fmt.Errorf("%w: routers: %v", ErrConfig, err)
	} else if ips != nil {
		o.SetRouters(ips)
	}
	if ips, err := parseIPList(s.TimeServers); err != nil {
		return nil, fmt.Errorf("%w: time_servers: %v", ErrConfig, err)
	} else if ips != nil {
		o.SetIPList(dhcp4.CodeTimeServer, ips)
	}
	if ips, err := parseIPList(s.NameServers); err != nil {
		return nil, fmt.Errorf("%w: name_servers: %v", ErrConfig, err)
	} else if ips != nil {
		o.SetIPList(dhcp4.CodeNameServer, ips)
	}
	if ips, err := parseIPList(s.DNSServers); err != nil {
		return nil, fmt.Errorf("%w: dns_servers: %v", ErrConfig, err)
	} else if ips != nil {
		o.SetIPList(dhcp4.CodeDomainNameServer, ips)
	}
	if ips, err := parseIPList(s.LogServers); err != nil {
		return nil, fmt.Errorf("%w: log_servers: %v", ErrConfig, err)
	} else if ips != nil {
		o.SetIPList(dhcp4.CodeLogServer, ips)
	}
	if s.HostName != "" {
		o.SetText(dhcp4.CodeHostName, s.HostName)
	}
	if s.DomainName != "" {
		o.SetText(dhcp4.CodeDomainName, s.DomainName)
	}
	if s.InterfaceMTU != nil {
		o.SetUint16(dhcp4.CodeInterfaceMTU, *s.InterfaceMTU)
	}
	if s.BroadcastAddr != "" {
		ip, err := parseIP(s.BroadcastAddr)
		if err != nil {
			return nil, fmt.Errorf("%w: broadcast_addr: %v", ErrConfig, err)
		}
		o.SetBroadcastAddr(ip)
	}
	if ips, err := parseIPList(s.StaticRoutes); err != nil {
		return nil, fmt.Errorf("%w: static_routes: %v", ErrConfig, err)
	} else if ips != nil {
		o.SetIPList(dhcp4.CodeStaticRoute, ips)
	}
	if ips, err := parseIPList(s.NTPServers); err != nil {
		return nil, fmt.Errorf("%w: ntp_servers: %v", ErrConfig, err)
	} else if ips != nil {
		o.SetIPList(dhcp4.CodeNTPServers, ips)
	}
	if s.VendorSpecific != "" {
		o.SetBytes(dhcp4.CodeVendorSpecific, []byte(s.VendorSpecific))
	}
	if s.RequestedIP != "" {
		ip, err := parseIP(s.RequestedIP)
		if err != nil {
			return nil, fmt.Errorf("%w: requested_ip: %v", ErrConfig, err)
		}
		o.SetRequestedIP(ip)
	}
	if s.LeaseTime != nil {
		o.SetLeaseTime(*s.LeaseTime)
	}
	if s.RenewalTime != nil {
		o.SetRenewalTime(*s.RenewalTime)
	}
	if s.RebindingTime != nil {
		o.SetRebindingTime(*s.RebindingTime)
	}
	if s.VendorClassID != "" {
		o.SetBytes(dhcp4.CodeVendorClassID, []byte(s.VendorClassID))
	}
	if s.TFTPServerName != "" {
		o.SetText(dhcp4.CodeTFTPServerName, s.TFTPServerName)
	}
	if s.BootfileName != "" {
		o.SetText(dhcp4.CodeBootfileName, s.BootfileName)
	}
	if len(s.DomainSearch) > 0 {
		o.SetStringList(dhcp4.CodeDomainSearch, s.DomainSearch)
	}
	if s.WPAD != "" {
		o.SetText(dhcp4.CodeWPAD, s.WPAD)
	}

	return o, nil
}

func parseIP(s string) (net.IP, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("invalid IPv4 address %q", s)
	}
	return ip, nil
}

func parseIPList(ss []string) ([]net.IP, error) {
	if len(ss) == 0 {
		return nil, nil
	}
	ips := make([]net.IP, len(ss))
	for i, s := range ss {
		ip, err := parseIP(s)
		if err != nil {
			return nil, err
		}
		ips[i] = ip
	}
	return ips, nil
}
