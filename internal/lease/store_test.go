package lease

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lion7/dhcpd/internal/hwaddr"
	"github.com/lion7/dhcpd/internal/subnet"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := OpenSQLiteStore(filepath.Join(dir, "leases.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleLease(t *testing.T) *Lease {
	t.Helper()
	c, err := subnet.NewCIDR(net.ParseIP("192.168.0.0"), 24)
	require.NoError(t, err)
	sn := subnet.New(c, nil)
	l, err := New(net.ParseIP("192.168.0.42"), sn, time.Hour, hwaddr.Broadcast(), hwaddr.Broadcast(), "test-lease")
	require.NoError(t, err)
	return l
}

func TestStoreTransactionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	rec := TransactionRecord{XID: 42, State: "PENDING", Start: time.Now().UTC().Truncate(time.Second)}

	token, err := s.PutTransaction(rec)
	require.NoError(t, err)

	got, err := s.GetTransaction(token)
	require.NoError(t, err)
	assert.Equal(t, rec.XID, got.XID)
	assert.Equal(t, rec.State, got.State)
	assert.True(t, rec.Start.Equal(got.Start))

	require.NoError(t, s.UpdateTransaction(token, TransactionRecord{XID: 42, State: "BOUND", Start: rec.Start, PendingLeaseToken: "abc"}))
	got, err = s.GetTransaction(token)
	require.NoError(t, err)
	assert.Equal(t, "BOUND", got.State)
	assert.Equal(t, Token("abc"), got.PendingLeaseToken)

	require.NoError(t, s.DeleteTransaction(token))
	_, err = s.GetTransaction(token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorePendingLeaseRoundTrip(t *testing.T) {
	s := openTestStore(t)
	l := sampleLease(t)

	token, err := s.PutPendingLease(l)
	require.NoError(t, err)

	got, err := s.GetPendingLease(token)
	require.NoError(t, err)
	assert.Equal(t, l.Addr.String(), got.Addr.String())
	assert.Equal(t, l.Hostname, got.Hostname)
	assert.Equal(t, l.HWAddr, got.HWAddr)

	require.NoError(t, s.DeletePendingLease(token))
	_, err = s.GetPendingLease(token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreLeaseRoundTripAndList(t *testing.T) {
	s := openTestStore(t)
	l := sampleLease(t)

	require.NoError(t, s.PutLease(l))

	got, err := s.GetLease(l.Addr)
	require.NoError(t, err)
	assert.Equal(t, l.Addr.String(), got.Addr.String())
	assert.Equal(t, l.SubnetRef, got.SubnetRef)

	all, err := s.AllLeases()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteLease(l.Addr))
	_, err = s.GetLease(l.Addr)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreCheckpointIsBestEffort(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.Checkpoint())
}

func TestLeaseRemainingAndExtend(t *testing.T) {
	l := sampleLease(t)
	assert.True(t, l.Remaining() <= time.Hour)
	assert.True(t, l.Remaining() > 0)

	require.NoError(t, l.Extend(time.Hour))
	assert.True(t, l.Remaining() > time.Hour)
}

func TestOpenSQLiteStoreFailsOnUnwritablePath(t *testing.T) {
	_, err := OpenSQLiteStore(filepath.Join(string(os.PathSeparator), "nonexistent-dir-xyz", "leases.db"))
	assert.Error(t, err)
}
