package txn

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lion7/dhcpd/internal/dhcp4"
	"github.com/lion7/dhcpd/internal/hwaddr"
	"github.com/lion7/dhcpd/internal/lease"
	"github.com/lion7/dhcpd/internal/subnet"
)

var ourServerID = net.ParseIP("192.168.0.1")
var otherServerID = net.ParseIP("192.168.0.2")

func newTestStore(t *testing.T) lease.Store {
	t.Helper()
	s, err := lease.OpenSQLiteStore(filepath.Join(t.TempDir(), "txn.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestLease(t *testing.T) *lease.Lease {
	t.Helper()
	c, err := subnet.NewCIDR(net.ParseIP("192.168.0.0"), 24)
	require.NoError(t, err)
	sn := subnet.New(c, nil)
	l, err := lease.New(net.ParseIP("192.168.0.42"), sn, time.Hour, hwaddr.Broadcast(), hwaddr.Broadcast(), "s4")
	require.NoError(t, err)
	return l
}

func messageWithXIDAndType(xid uint32, mt dhcp4.MessageType) *dhcp4.Message {
	m := &dhcp4.Message{Xid: xid, Options: dhcp4.NewOptions()}
	m.Options.SetMessageType(mt)
	return m
}

// TestS4CommitOnAck exercises scenario S4 from the exchange table: bind,
// offer, request from our own server ID, ack — ending with the pending
// pool empty and the lease promoted.
func TestS4CommitOnAck(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, ourServerID, nil)

	require.NoError(t, m.Initiate(0x27d3145d))
	l := newTestLease(t)
	require.NoError(t, m.BindLease(0x27d3145d, l))

	offer := messageWithXIDAndType(0x27d3145d, dhcp4.MessageTypeOffer)
	require.NoError(t, m.HandleOutput(offer))

	request := messageWithXIDAndType(0x27d3145d, dhcp4.MessageTypeRequest)
	request.Options.SetServerID(ourServerID)
	require.NoError(t, m.HandleInput(request))

	ack := messageWithXIDAndType(0x27d3145d, dhcp4.MessageTypeAck)
	require.NoError(t, m.HandleOutput(ack))

	_, _, err := m.getTransaction(0x27d3145d)
	assert.ErrorIs(t, err, ErrUnknownTransaction)

	got, err := store.GetLease(l.Addr)
	require.NoError(t, err)
	assert.Equal(t, l.Addr.String(), got.Addr.String())
}

// TestS5AbortOnOtherServerChosen exercises scenario S5: a transaction that
// reached WAITING sees a REQUEST naming a different server identifier, and
// both the transaction and its pending lease are removed.
func TestS5AbortOnOtherServerChosen(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, ourServerID, nil)

	require.NoError(t, m.Initiate(7))
	l := newTestLease(t)
	require.NoError(t, m.BindLease(7, l))
	require.NoError(t, m.HandleOutput(messageWithXIDAndType(7, dhcp4.MessageTypeOffer)))

	request := messageWithXIDAndType(7, dhcp4.MessageTypeRequest)
	request.Options.SetServerID(otherServerID)
	require.NoError(t, m.HandleInput(request))

	_, _, err := m.getTransaction(7)
	assert.ErrorIs(t, err, ErrUnknownTransaction)
}

// TestS6WatchoutAbortsTimedOutTransaction exercises scenario S6.
func TestS6WatchoutAbortsTimedOutTransaction(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, ourServerID, nil)

	require.NoError(t, m.Initiate(99))

	restore := timeNow
	timeNow = func() time.Time { return restore().Add(2 * Timeout) }
	defer func() { timeNow = restore }()

	m.Watchout()

	_, _, err := m.getTransaction(99)
	assert.ErrorIs(t, err, ErrUnknownTransaction)
}

func TestInitiateRejectsDuplicateXID(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, ourServerID, nil)
	require.NoError(t, m.Initiate(1))
	assert.ErrorIs(t, m.Initiate(1), ErrAlreadyExists)
}

func TestBindLeaseRejectsDoubleBind(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, ourServerID, nil)
	require.NoError(t, m.Initiate(1))
	require.NoError(t, m.BindLease(1, newTestLease(t)))
	err := m.BindLease(1, newTestLease(t))
	assert.ErrorIs(t, err, ErrAlreadyBound)
}

func TestHandleOutputOfferRequiresBound(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, ourServerID, nil)
	require.NoError(t, m.Initiate(1))
	err := m.HandleOutput(messageWithXIDAndType(1, dhcp4.MessageTypeOffer))
	assert.ErrorIs(t, err, ErrNotBound)
}

func TestHandleOutputNakIsSilentlyAccepted(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, ourServerID, nil)
	require.NoError(t, m.Initiate(1))
	assert.NoError(t, m.HandleOutput(messageWithXIDAndType(1, dhcp4.MessageTypeNak)))
}

func TestHandleOutputAckWithNoTransactionIsSilentlyAccepted(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, ourServerID, nil)
	assert.NoError(t, m.HandleOutput(messageWithXIDAndType(12345, dhcp4.MessageTypeAck)))
}

func TestHandleInputDiscoverRejectsExistingTransaction(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, ourServerID, nil)
	require.NoError(t, m.Initiate(1))
	err := m.HandleInput(messageWithXIDAndType(1, dhcp4.MessageTypeDiscover))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}
