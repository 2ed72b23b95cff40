package dhcp4

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsRoundTrip(t *testing.T) {
	o := NewOptions()
	o.SetMessageType(MessageTypeOffer)
	o.SetSubnetMask(net.IPv4(255, 255, 255, 0))
	o.SetRouters([]net.IP{net.IPv4(192, 168, 0, 1)})
	o.SetLeaseTime(3600)
	o.SetServerID(net.IPv4(192, 168, 0, 1))
	o.SetClientID([]byte{0x01, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff})
	o.SetText(CodeHostName, "host1")
	o.SetStringList(CodeDomainSearch, []string{"example.com", "corp.example.com"})
	o.SetUint16(CodeInterfaceMTU, 1500)

	encoded, err := o.Encode()
	require.NoError(t, err)

	decoded, err := DecodeOptions(encoded)
	require.NoError(t, err)

	assert.True(t, o.Equal(decoded), "round trip should preserve all option values")
}

func TestDecodeEndsAtTerminator(t *testing.T) {
	raw := []byte{byte(CodeMessageType), 1, byte(MessageTypeDiscover), byte(CodeEnd), 99, 99}
	o, err := DecodeOptions(raw)
	require.NoError(t, err)
	mt, ok := o.MessageType()
	require.True(t, ok)
	assert.Equal(t, MessageTypeDiscover, mt)
}

func TestDecodeSkipsPad(t *testing.T) {
	raw := []byte{0, 0, byte(CodeMessageType), 1, byte(MessageTypeAck), 0, byte(CodeEnd)}
	o, err := DecodeOptions(raw)
	require.NoError(t, err)
	mt, ok := o.MessageType()
	require.True(t, ok)
	assert.Equal(t, MessageTypeAck, mt)
}

func TestDecodeTruncatedStopsWithoutPanic(t *testing.T) {
	raw := []byte{byte(CodeSubnetMask), 4, 255, 255, 255} // declares 4 bytes, only has 3
	assert.NotPanics(t, func() {
		o, err := DecodeOptions(raw)
		require.NoError(t, err)
		assert.False(t, o.Has(CodeSubnetMask))
	})
}

func TestDecodeRejectsMessageTypeOutOfRange(t *testing.T) {
	raw := []byte{byte(CodeMessageType), 1, 0}
	_, err := DecodeOptions(raw)
	assert.Error(t, err)
}

func TestEmissionOrderWinsThenAscending(t *testing.T) {
	o := NewOptions()
	o.SetMessageType(MessageTypeOffer)
	o.SetSubnetMask(net.IPv4(255, 255, 255, 0))
	o.SetServerID(net.IPv4(10, 0, 0, 1))
	o.EmissionOrder = []Code{CodeMessageType}

	encoded, err := o.Encode()
	require.NoError(t, err)
	assert.Equal(t, byte(CodeMessageType), encoded[0])

	// remaining codes (1, 54) follow in ascending order
	idxMask := indexOfCode(encoded, CodeSubnetMask)
	idxServer := indexOfCode(encoded, CodeServerID)
	require.NotEqual(t, -1, idxMask)
	require.NotEqual(t, -1, idxServer)
	assert.Less(t, idxMask, idxServer)
}

func indexOfCode(data []byte, code Code) int {
	i := 0
	for i < len(data) {
		c := Code(data[i])
		if c == CodePad {
			i++
			continue
		}
		if c == CodeEnd {
			return -1
		}
		if c == code {
			return i
		}
		i += 2 + int(data[i+1])
	}
	return -1
}

func TestParamReqListAndIsRequested(t *testing.T) {
	o := NewOptions()
	o.SetParamReqList([]uint8{byte(CodeSubnetMask), byte(CodeRouter)})
	assert.True(t, o.IsRequested(CodeSubnetMask))
	assert.False(t, o.IsRequested(CodeDomainName))
}

func TestDomainSearchRoundTrip(t *testing.T) {
	o := NewOptions()
	names := []string{"eng.example.com", "example.com"}
	o.SetStringList(CodeDomainSearch, names)

	encoded, err := o.Encode()
	require.NoError(t, err)

	decoded, err := DecodeOptions(encoded)
	require.NoError(t, err)

	got, ok := decoded.StringList(CodeDomainSearch)
	require.True(t, ok)
	assert.Equal(t, names, got)
}
