package dhcp4

import (
	"encoding/binary"
	"fmt"
	"net"
)

// MagicCookie identifies the start of the DHCP options block.
var MagicCookie = [4]byte{0x63, 0x82, 0x53, 0x63}

const (
	// headerSize is the fixed BOOTP header length in bytes, not counting
	// the magic cookie or the options block.
	headerSize = 236

	OpBootRequest = 1
	OpBootReply   = 2

	HTypeEthernet = 1
)

// Message is a decoded DHCPv4 packet: the fixed BOOTP header plus a parsed
// Options record.
type Message struct {
	Op     uint8
	HType  uint8
	HLen   uint8
	Hops   uint8
	Xid    uint32
	Secs   uint16
	Flags  uint16
	CIAddr net.IP
	YIAddr net.IP
	SIAddr net.IP
	GIAddr net.IP
	CHAddr [16]byte
	SName  [64]byte
	File   [128]byte

	Options *Options
}

// BroadcastFlag is the high bit of the flags field (RFC 2131 §2).
const BroadcastFlag uint16 = 0x8000

func (m *Message) Broadcast() bool {
	return m.Flags&BroadcastFlag != 0
}

// Decode parses a raw UDP payload into a Message. It returns an error for
// anything shorter than the fixed header plus magic cookie, for a bad magic
// cookie, and for a message type (option 53) outside the defined range; any
// other malformed option is dropped without an error (see DecodeOptions).
func Decode(data []byte) (*Message, error) {
	if len(data) < headerSize+4 {
		return nil, fmt.Errorf("dhcp4: packet too short: %d bytes", len(data))
	}

	m := &Message{}
	m.Op = data[0]
	m.HType = data[1]
	m.HLen = data[2]
	m.Hops = data[3]
	m.Xid = binary.BigEndian.Uint32(data[4:8])
	m.Secs = binary.BigEndian.Uint16(data[8:10])
	m.Flags = binary.BigEndian.Uint16(data[10:12])
	m.CIAddr = net.IP(append([]byte{}, data[12:16]...))
	m.YIAddr = net.IP(append([]byte{}, data[16:20]...))
	m.SIAddr = net.IP(append([]byte{}, data[20:24]...))
	m.GIAddr = net.IP(append([]byte{}, data[24:28]...))
	copy(m.CHAddr[:], data[28:44])
	copy(m.SName[:], data[44:108])
	copy(m.File[:], data[108:236])

	if [4]byte(data[236:240]) != MagicCookie {
		return nil, fmt.Errorf("dhcp4: bad magic cookie")
	}

	opts, err := DecodeOptions(data[240:])
	if err != nil {
		return nil, err
	}
	m.Options = opts
	return m, nil
}

// Encode serializes the message back to wire form.
func (m *Message) Encode() ([]byte, error) {
	buf := make([]byte, headerSize+4)
	buf[0] = m.Op
	buf[1] = m.HType
	buf[2] = m.HLen
	buf[3] = m.Hops
	binary.BigEndian.PutUint32(buf[4:8], m.Xid)
	binary.BigEndian.PutUint16(buf[8:10], m.Secs)
	binary.BigEndian.PutUint16(buf[10:12], m.Flags)
	copyIP(buf[12:16], m.CIAddr)
	copyIP(buf[16:20], m.YIAddr)
	copyIP(buf[20:24], m.SIAddr)
	copyIP(buf[24:28], m.GIAddr)
	copy(buf[28:44], m.CHAddr[:])
	copy(buf[44:108], m.SName[:])
	copy(buf[108:236], m.File[:])
	copy(buf[236:240], MagicCookie[:])

	opts := m.Options
	if opts == nil {
		opts = NewOptions()
	}
	encodedOpts, err := opts.Encode()
	if err != nil {
		return nil, err
	}
	buf = append(buf, encodedOpts...)
	return buf, nil
}

func copyIP(dst []byte, ip net.IP) {
	ip4 := ip.To4()
	if ip4 == nil {
		return
	}
	copy(dst, ip4)
}

// NewReply builds an empty reply skeleton from an inbound request, filling
// in the header fields the Responder contract declares common to every
// reply: op, htype, hlen, hops, xid, giaddr, chaddr.
func NewReply(req *Message) *Message {
	resp := &Message{
		Op:     OpBootReply,
		HType:  HTypeEthernet,
		HLen:   6,
		Hops:   0,
		Xid:    req.Xid,
		GIAddr: req.GIAddr,
		CHAddr: req.CHAddr,
		CIAddr: net.IPv4zero,
		YIAddr: net.IPv4zero,
		SIAddr: net.IPv4zero,

		Options: NewOptions(),
	}
	return resp
}
