// Package dhcp4 implements the wire encoding for DHCPv4 messages: the
// option list (this file) and the fixed BOOTP header (message.go).
package dhcp4

import (
	"encoding/binary"
	"fmt"
	"net"
	"reflect"
	"sort"
	"strings"
)

func reflectDeepEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// Code is a DHCP option code as defined by RFC 2132 and later RFCs.
type Code uint8

const (
	CodePad                 Code = 0
	CodeSubnetMask          Code = 1
	CodeRouter              Code = 3
	CodeTimeServer          Code = 4
	CodeNameServer          Code = 5
	CodeDomainNameServer    Code = 6
	CodeLogServer           Code = 7
	CodeHostName            Code = 12
	CodeDomainName          Code = 15
	CodeInterfaceMTU        Code = 26
	CodeBroadcastAddr       Code = 28
	CodeStaticRoute         Code = 33
	CodeNTPServers          Code = 42
	CodeVendorSpecific      Code = 43
	CodeRequestedIP         Code = 50
	CodeLeaseTime           Code = 51
	CodeMessageType         Code = 53
	CodeServerID            Code = 54
	CodeParamReqList        Code = 55
	CodeRenewalTime         Code = 58
	CodeRebindingTime       Code = 59
	CodeVendorClassID       Code = 60
	CodeClientID            Code = 61
	CodeTFTPServerName      Code = 66
	CodeBootfileName        Code = 67
	CodeAutoConfigure       Code = 116
	CodeDomainSearch        Code = 119
	CodeWPAD                Code = 252
	CodeEnd                 Code = 255
)

// MessageType is the value of option 53.
type MessageType uint8

const (
	MessageTypeDiscover    MessageType = 1
	MessageTypeOffer       MessageType = 2
	MessageTypeRequest     MessageType = 3
	MessageTypeDecline     MessageType = 4
	MessageTypeAck         MessageType = 5
	MessageTypeNak         MessageType = 6
	MessageTypeRelease     MessageType = 7
	MessageTypeInform      MessageType = 8
	MessageTypeForceRenew  MessageType = 9
)

func (m MessageType) String() string {
	switch m {
	case MessageTypeDiscover:
		return "DISCOVER"
	case MessageTypeOffer:
		return "OFFER"
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeDecline:
		return "DECLINE"
	case MessageTypeAck:
		return "ACK"
	case MessageTypeNak:
		return "NAK"
	case MessageTypeRelease:
		return "RELEASE"
	case MessageTypeInform:
		return "INFORM"
	case MessageTypeForceRenew:
		return "FORCERENEW"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(m))
	}
}

func (m MessageType) valid() bool {
	return m >= 1 && m <= 9
}

// Options is a sparse record of DHCP options, one slot per known option
// code. A slot is either absent or carries a typed payload. EmissionOrder,
// when non-empty, lists codes that must be written first on Encode; any
// other defined code follows in ascending numeric order.
type Options struct {
	values        map[Code]any
	EmissionOrder []Code
}

// NewOptions returns an empty option record.
func NewOptions() *Options {
	return &Options{values: make(map[Code]any)}
}

func (o *Options) ensure() {
	if o.values == nil {
		o.values = make(map[Code]any)
	}
}

// Has reports whether code is present in the defined-set.
func (o *Options) Has(code Code) bool {
	if o.values == nil {
		return false
	}
	_, ok := o.values[code]
	return ok
}

// Unset removes code from the defined-set.
func (o *Options) Unset(code Code) {
	if o.values == nil {
		return
	}
	delete(o.values, code)
}

// Codes returns the defined codes in ascending numeric order.
func (o *Options) Codes() []Code {
	codes := make([]Code, 0, len(o.values))
	for c := range o.values {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// Clone returns a deep-enough copy of o: safe for the copy to have values
// set or unset without affecting o, even for slice-typed payloads.
func (o *Options) Clone() *Options {
	out := NewOptions()
	for code, v := range o.values {
		switch val := v.(type) {
		case []net.IP:
			out.values[code] = cloneIPs(val)
		case []uint8:
			cp := make([]uint8, len(val))
			copy(cp, val)
			out.values[code] = cp
		case []string:
			cp := make([]string, len(val))
			copy(cp, val)
			out.values[code] = cp
		default:
			out.values[code] = v
		}
	}
	out.EmissionOrder = append([]Code(nil), o.EmissionOrder...)
	return out
}

// Merge copies every code set on overlay into o, overwriting any existing
// value for that code and cloning slice-typed payloads so neither record
// shares backing storage with the other afterward.
func (o *Options) Merge(overlay *Options) {
	o.ensure()
	clone := overlay.Clone()
	for code, v := range clone.values {
		o.values[code] = v
	}
}

func cloneIPs(ips []net.IP) []net.IP {
	out := make([]net.IP, len(ips))
	for i, ip := range ips {
		out[i] = ip.To4()
	}
	return out
}

// --- Typed accessors -------------------------------------------------

func (o *Options) SetIP(code Code, ip net.IP) {
	o.ensure()
	o.values[code] = ip.To4()
}

func (o *Options) IP(code Code) (net.IP, bool) {
	v, ok := o.values[code]
	if !ok {
		return nil, false
	}
	ip, ok := v.(net.IP)
	return ip, ok
}

func (o *Options) SetIPList(code Code, ips []net.IP) {
	o.ensure()
	o.values[code] = cloneIPs(ips)
}

func (o *Options) IPList(code Code) ([]net.IP, bool) {
	v, ok := o.values[code]
	if !ok {
		return nil, false
	}
	ips, ok := v.([]net.IP)
	return ips, ok
}

func (o *Options) SetUint32(code Code, n uint32) {
	o.ensure()
	o.values[code] = n
}

func (o *Options) Uint32(code Code) (uint32, bool) {
	v, ok := o.values[code]
	if !ok {
		return 0, false
	}
	n, ok := v.(uint32)
	return n, ok
}

func (o *Options) SetUint16(code Code, n uint16) {
	o.ensure()
	o.values[code] = n
}

func (o *Options) Uint16(code Code) (uint16, bool) {
	v, ok := o.values[code]
	if !ok {
		return 0, false
	}
	n, ok := v.(uint16)
	return n, ok
}

func (o *Options) SetUint8(code Code, n uint8) {
	o.ensure()
	o.values[code] = n
}

func (o *Options) Uint8(code Code) (uint8, bool) {
	v, ok := o.values[code]
	if !ok {
		return 0, false
	}
	n, ok := v.(uint8)
	return n, ok
}

func (o *Options) SetUint8List(code Code, ns []uint8) {
	o.ensure()
	cp := make([]uint8, len(ns))
	copy(cp, ns)
	o.values[code] = cp
}

func (o *Options) Uint8List(code Code) ([]uint8, bool) {
	v, ok := o.values[code]
	if !ok {
		return nil, false
	}
	ns, ok := v.([]uint8)
	return ns, ok
}

func (o *Options) SetBytes(code Code, b []byte) {
	o.ensure()
	cp := make([]byte, len(b))
	copy(cp, b)
	o.values[code] = cp
}

func (o *Options) Bytes(code Code) ([]byte, bool) {
	v, ok := o.values[code]
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

func (o *Options) SetText(code Code, s string) {
	o.ensure()
	o.values[code] = s
}

func (o *Options) Text(code Code) (string, bool) {
	v, ok := o.values[code]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (o *Options) SetStringList(code Code, ss []string) {
	o.ensure()
	cp := make([]string, len(ss))
	copy(cp, ss)
	o.values[code] = cp
}

func (o *Options) StringList(code Code) ([]string, bool) {
	v, ok := o.values[code]
	if !ok {
		return nil, false
	}
	ss, ok := v.([]string)
	return ss, ok
}

// --- Named convenience wrappers --------------------------------------

func (o *Options) SetSubnetMask(mask net.IP)        { o.SetIP(CodeSubnetMask, mask) }
func (o *Options) SubnetMask() (net.IP, bool)       { return o.IP(CodeSubnetMask) }
func (o *Options) SetRouters(ips []net.IP)          { o.SetIPList(CodeRouter, ips) }
func (o *Options) Routers() ([]net.IP, bool)        { return o.IPList(CodeRouter) }
func (o *Options) SetBroadcastAddr(ip net.IP)       { o.SetIP(CodeBroadcastAddr, ip) }
func (o *Options) BroadcastAddr() (net.IP, bool)    { return o.IP(CodeBroadcastAddr) }
func (o *Options) SetRequestedIP(ip net.IP)         { o.SetIP(CodeRequestedIP, ip) }
func (o *Options) RequestedIP() (net.IP, bool)      { return o.IP(CodeRequestedIP) }
func (o *Options) SetLeaseTime(seconds uint32)      { o.SetUint32(CodeLeaseTime, seconds) }
func (o *Options) LeaseTime() (uint32, bool)        { return o.Uint32(CodeLeaseTime) }
func (o *Options) SetServerID(ip net.IP)            { o.SetIP(CodeServerID, ip) }
func (o *Options) ServerID() (net.IP, bool)         { return o.IP(CodeServerID) }
func (o *Options) SetRenewalTime(seconds uint32)    { o.SetUint32(CodeRenewalTime, seconds) }
func (o *Options) RenewalTime() (uint32, bool)      { return o.Uint32(CodeRenewalTime) }
func (o *Options) SetRebindingTime(seconds uint32)  { o.SetUint32(CodeRebindingTime, seconds) }
func (o *Options) RebindingTime() (uint32, bool)    { return o.Uint32(CodeRebindingTime) }
func (o *Options) SetClientID(id []byte)            { o.SetBytes(CodeClientID, id) }
func (o *Options) ClientID() ([]byte, bool)         { return o.Bytes(CodeClientID) }
func (o *Options) SetParamReqList(codes []uint8)    { o.SetUint8List(CodeParamReqList, codes) }
func (o *Options) ParamReqList() ([]uint8, bool)    { return o.Uint8List(CodeParamReqList) }

func (o *Options) SetMessageType(mt MessageType) {
	o.ensure()
	o.values[CodeMessageType] = mt
}

func (o *Options) MessageType() (MessageType, bool) {
	v, ok := o.values[CodeMessageType]
	if !ok {
		return 0, false
	}
	mt, ok := v.(MessageType)
	return mt, ok
}

// IsRequested reports whether code appears in the parameter request list
// (option 55), which clients use to ask for specific options in the reply.
func (o *Options) IsRequested(code Code) bool {
	list, ok := o.ParamReqList()
	if !ok {
		return false
	}
	for _, c := range list {
		if Code(c) == code {
			return true
		}
	}
	return false
}

// Equal compares the defined-set and values of two option records,
// ignoring EmissionOrder (a pure encoding hint, not part of the wire
// content the round-trip law is concerned with).
func (o *Options) Equal(other *Options) bool {
	if o == nil || other == nil {
		return o == other
	}
	if len(o.values) != len(other.values) {
		return false
	}
	for code, v := range o.values {
		ov, ok := other.values[code]
		if !ok {
			return false
		}
		if !valueEqual(v, ov) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	switch av := a.(type) {
	case net.IP:
		bv, ok := b.(net.IP)
		return ok && av.Equal(bv)
	case []net.IP:
		bv, ok := b.([]net.IP)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !av[i].Equal(bv[i]) {
				return false
			}
		}
		return true
	default:
		return reflectDeepEqual(a, b)
	}
}

// --- Decode ------------------------------------------------------------

// listOptionCodes is the set of codes whose payload is a list of IPv4
// addresses, each 4 bytes wide.
var listOptionCodes = map[Code]bool{
	CodeRouter:           true,
	CodeTimeServer:       true,
	CodeNameServer:       true,
	CodeDomainNameServer: true,
	CodeLogServer:        true,
	CodeStaticRoute:      true,
	CodeNTPServers:       true,
}

var singleIPOptionCodes = map[Code]bool{
	CodeSubnetMask:    true,
	CodeBroadcastAddr: true,
	CodeRequestedIP:   true,
	CodeServerID:      true,
}

var textOptionCodes = map[Code]bool{
	CodeHostName:       true,
	CodeDomainName:     true,
	CodeTFTPServerName: true,
	CodeBootfileName:   true,
	CodeWPAD:           true,
}

var uint32OptionCodes = map[Code]bool{
	CodeLeaseTime:     true,
	CodeRenewalTime:   true,
	CodeRebindingTime: true,
}

var bytesOptionCodes = map[Code]bool{
	CodeVendorSpecific: true,
	CodeVendorClassID:  true,
	CodeClientID:       true,
}

// DecodeOptions parses a raw option block (everything after the magic
// cookie, up to but not necessarily including the 0xFF terminator) into an
// Options record. It never panics: truncated input stops decoding and
// returns whatever was parsed so far, with no error.
func DecodeOptions(data []byte) (*Options, error) {
	o := NewOptions()
	i := 0
	for i < len(data) {
		code := Code(data[i])
		if code == CodePad {
			i++
			continue
		}
		if code == CodeEnd {
			break
		}
		if i+1 >= len(data) {
			break
		}
		length := int(data[i+1])
		i += 2
		if i+length > len(data) {
			break
		}
		value := data[i : i+length]
		i += length

		if err := decodeOne(o, code, value); err != nil {
			// A malformed individual option is dropped and ends decoding:
			// the options parsed before it are returned with no error, with
			// the single exception of message type, whose range check is
			// the one hard rejection in the table.
			if code == CodeMessageType {
				return o, err
			}
			return o, nil
		}
	}
	return o, nil
}

func decodeOne(o *Options, code Code, value []byte) error {
	switch {
	case code == CodeMessageType:
		if len(value) != 1 {
			return fmt.Errorf("dhcp4: option 53 message type: want 1 byte, got %d", len(value))
		}
		mt := MessageType(value[0])
		if !mt.valid() {
			return fmt.Errorf("dhcp4: option 53 message type %d out of range [1,9]", value[0])
		}
		o.SetMessageType(mt)
		return nil

	case singleIPOptionCodes[code]:
		if len(value) != 4 {
			return fmt.Errorf("dhcp4: option %d: want 4 bytes, got %d", code, len(value))
		}
		o.SetIP(code, net.IP(value))
		return nil

	case listOptionCodes[code]:
		if len(value) == 0 || len(value)%4 != 0 {
			return fmt.Errorf("dhcp4: option %d: length %d not a multiple of 4", code, len(value))
		}
		ips := make([]net.IP, 0, len(value)/4)
		for j := 0; j < len(value); j += 4 {
			ip := make(net.IP, 4)
			copy(ip, value[j:j+4])
			ips = append(ips, ip)
		}
		o.SetIPList(code, ips)
		return nil

	case textOptionCodes[code]:
		o.SetText(code, string(value))
		return nil

	case uint32OptionCodes[code]:
		if len(value) != 4 {
			return fmt.Errorf("dhcp4: option %d: want 4 bytes, got %d", code, len(value))
		}
		o.SetUint32(code, binary.BigEndian.Uint32(value))
		return nil

	case bytesOptionCodes[code]:
		o.SetBytes(code, value)
		return nil

	case code == CodeInterfaceMTU:
		if len(value) != 2 {
			return fmt.Errorf("dhcp4: option 26 interface MTU: want 2 bytes, got %d", len(value))
		}
		o.SetUint16(code, binary.BigEndian.Uint16(value))
		return nil

	case code == CodeParamReqList:
		o.SetUint8List(code, value)
		return nil

	case code == CodeAutoConfigure:
		if len(value) != 1 {
			return fmt.Errorf("dhcp4: option 116 auto-configure: want 1 byte, got %d", len(value))
		}
		o.SetUint8(code, value[0])
		return nil

	case code == CodeDomainSearch:
		names, err := decodeDomainSearch(value)
		if err != nil {
			return err
		}
		o.SetStringList(code, names)
		return nil

	default:
		// Unknown code: the length byte has already been consumed by the
		// caller's cursor advance, so simply dropping value here is enough
		// to skip it.
		return nil
	}
}

// decodeDomainSearch parses a sequence of length-prefixed DNS labels
// (uncompressed) terminated by a zero-length label, one name after
// another until the option data is exhausted. Every read is bounded
// against len(data); a label length that would overrun the buffer
// truncates decoding of this option rather than looping or panicking.
func decodeDomainSearch(data []byte) ([]string, error) {
	var names []string
	pos := 0
	for pos < len(data) {
		var labels []string
		for {
			if pos >= len(data) {
				return names, nil
			}
			labelLen := int(data[pos])
			pos++
			if labelLen == 0 {
				break
			}
			if pos+labelLen > len(data) {
				return names, nil
			}
			labels = append(labels, string(data[pos:pos+labelLen]))
			pos += labelLen
		}
		if len(labels) > 0 {
			names = append(names, strings.Join(labels, "."))
		}
	}
	return names, nil
}

// --- Encode ------------------------------------------------------------

// Encode serializes the option record in EmissionOrder first, then the
// remaining defined codes in ascending numeric order, terminated by the
// end-of-options marker.
func (o *Options) Encode() ([]byte, error) {
	var buf []byte
	written := make(map[Code]bool, len(o.values))

	emit := func(code Code) error {
		if written[code] {
			return nil
		}
		v, ok := o.values[code]
		if !ok {
			return nil
		}
		encoded, err := encodeValue(code, v)
		if err != nil {
			return err
		}
		if len(encoded) > 255 {
			return fmt.Errorf("dhcp4: option %d: encoded length %d exceeds 255", code, len(encoded))
		}
		buf = append(buf, byte(code), byte(len(encoded)))
		buf = append(buf, encoded...)
		written[code] = true
		return nil
	}

	for _, code := range o.EmissionOrder {
		if err := emit(code); err != nil {
			return nil, err
		}
	}
	for _, code := range o.Codes() {
		if err := emit(code); err != nil {
			return nil, err
		}
	}

	buf = append(buf, byte(CodeEnd))
	return buf, nil
}

func encodeValue(code Code, v any) ([]byte, error) {
	switch val := v.(type) {
	case net.IP:
		ip4 := val.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("dhcp4: option %d: not an IPv4 address: %v", code, val)
		}
		return []byte(ip4), nil
	case []net.IP:
		out := make([]byte, 0, 4*len(val))
		for _, ip := range val {
			ip4 := ip.To4()
			if ip4 == nil {
				return nil, fmt.Errorf("dhcp4: option %d: not an IPv4 address: %v", code, ip)
			}
			out = append(out, []byte(ip4)...)
		}
		return out, nil
	case string:
		return []byte(val), nil
	case []string:
		var out []byte
		for _, name := range val {
			for _, label := range strings.Split(name, ".") {
				if label == "" {
					continue
				}
				if len(label) > 63 {
					return nil, fmt.Errorf("dhcp4: option %d: label %q exceeds 63 bytes", code, label)
				}
				out = append(out, byte(len(label)))
				out = append(out, []byte(label)...)
			}
			out = append(out, 0)
		}
		return out, nil
	case uint32:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, val)
		return b, nil
	case uint16:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, val)
		return b, nil
	case uint8:
		return []byte{val}, nil
	case []uint8:
		return val, nil
	case []byte:
		return val, nil
	case MessageType:
		if !val.valid() {
			return nil, fmt.Errorf("dhcp4: message type %d out of range [1,9]", uint8(val))
		}
		return []byte{byte(val)}, nil
	default:
		return nil, fmt.Errorf("dhcp4: option %d: unsupported value type %T", code, v)
	}
}
