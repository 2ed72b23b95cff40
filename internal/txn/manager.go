package txn

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lion7/dhcpd/internal/dhcp4"
	"github.com/lion7/dhcpd/internal/lease"
)

var (
	ErrAlreadyExists      = errors.New("txn: transaction already exists for this xid")
	ErrUnknownTransaction = errors.New("txn: no transaction for this xid")
	ErrAlreadyBound       = errors.New("txn: transaction already has a bound lease")
	ErrNotPending         = errors.New("txn: bind_lease requires a PENDING transaction")
	ErrNotBound           = errors.New("txn: OFFER requires a BOUND transaction")
	ErrNotWaiting         = errors.New("txn: REQUEST received for a transaction that was never offered")
)

// Manager is the Transaction Manager (C8). It owns one lock protecting the
// xid → token index; the Lease Store is assumed internally synchronized, so
// store calls happen outside that lock where possible.
type Manager struct {
	mu       sync.Mutex
	index    map[uint32]lease.Token // xid -> Transactions pool token
	store    lease.Store
	serverID net.IP
	logger   *zap.Logger
}

// NewManager creates a transaction manager backed by store. serverID is
// compared against option 54 on inbound REQUESTs to decide whether this
// server or a sibling was chosen.
func NewManager(store lease.Store, serverID net.IP, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		index:    make(map[uint32]lease.Token),
		store:    store,
		serverID: serverID,
		logger:   logger,
	}
}

func (m *Manager) tokenFor(xid uint32) (lease.Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.index[xid]
	return token, ok
}

func (m *Manager) getTransaction(xid uint32) (lease.Token, Transaction, error) {
	token, ok := m.tokenFor(xid)
	if !ok {
		return "", Transaction{}, fmt.Errorf("%w: xid=%d", ErrUnknownTransaction, xid)
	}
	rec, err := m.store.GetTransaction(token)
	if err != nil {
		return "", Transaction{}, fmt.Errorf("txn: loading xid=%d: %w", xid, err)
	}
	return token, Transaction{XID: rec.XID, State: State(rec.State), Start: rec.Start, Pending: string(rec.PendingLeaseToken)}, nil
}

func (m *Manager) saveTransaction(token lease.Token, t Transaction) error {
	return m.store.UpdateTransaction(token, lease.TransactionRecord{
		XID:               t.XID,
		State:             string(t.State),
		Start:             t.Start,
		PendingLeaseToken: lease.Token(t.Pending),
	})
}

// Initiate starts a new transaction for xid. It fails if one already
// exists, matching the original "DISCOVER trying to initiate an
// uncommitted transaction" rejection.
func (m *Manager) Initiate(xid uint32) error {
	m.mu.Lock()
	if _, exists := m.index[xid]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: xid=%d", ErrAlreadyExists, xid)
	}
	m.mu.Unlock()

	token, err := m.store.PutTransaction(lease.TransactionRecord{XID: xid, State: string(StatePending), Start: timeNow()})
	if err != nil {
		return fmt.Errorf("txn: initiating xid=%d: %w", xid, err)
	}

	m.mu.Lock()
	m.index[xid] = token
	m.mu.Unlock()
	return nil
}

// HandleInput observes an inbound client message and advances the state
// machine for DISCOVER and REQUEST; all other message types are a no-op.
func (m *Manager) HandleInput(req *dhcp4.Message) error {
	mt, ok := req.Options.MessageType()
	if !ok {
		return nil
	}
	switch mt {
	case dhcp4.MessageTypeDiscover:
		return m.Initiate(req.Xid)
	case dhcp4.MessageTypeRequest:
		return m.handleRequest(req)
	default:
		return nil
	}
}

func (m *Manager) handleRequest(req *dhcp4.Message) error {
	serverID, ok := req.Options.ServerID()
	if !ok || serverID.IsUnspecified() {
		// unspecified server identifier: no-op per the declared event
		// handler, not an error — the client is renewing directly and this
		// manager does not track renewals.
		return nil
	}

	token, t, err := m.getTransaction(req.Xid)
	if err != nil {
		return err
	}

	if !serverID.Equal(m.serverID) {
		// client chose a different server; abort our reservation
		return m.Abort(req.Xid)
	}

	if t.State != StateWaiting {
		return fmt.Errorf("%w: xid=%d state=%s", ErrNotWaiting, req.Xid, t.State)
	}
	t.State = StateRequested
	return m.saveTransaction(token, t)
}

// HandleOutput observes an outbound server message and advances the state
// machine for OFFER and ACK. A NAK aborts the transaction, if any, and never
// returns an error; all other types are a no-op.
func (m *Manager) HandleOutput(resp *dhcp4.Message) error {
	mt, ok := resp.Options.MessageType()
	if !ok {
		return nil
	}
	switch mt {
	case dhcp4.MessageTypeOffer:
		return m.handleOffer(resp)
	case dhcp4.MessageTypeAck:
		return m.handleAck(resp)
	case dhcp4.MessageTypeNak:
		return m.handleNak(resp)
	default:
		return nil
	}
}

func (m *Manager) handleOffer(resp *dhcp4.Message) error {
	token, t, err := m.getTransaction(resp.Xid)
	if err != nil {
		// an OFFER with no tracked transaction is a caller bug, not a
		// protocol event this manager needs to accept silently.
		return err
	}
	if t.State != StateBound {
		return fmt.Errorf("%w: xid=%d state=%s", ErrNotBound, resp.Xid, t.State)
	}
	t.State = StateWaiting
	return m.saveTransaction(token, t)
}

func (m *Manager) handleAck(resp *dhcp4.Message) error {
	_, t, err := m.getTransaction(resp.Xid)
	if err != nil {
		// ACKs also cover INFORM replies, which never had a transaction.
		return nil
	}
	if t.State != StateRequested {
		return nil
	}
	return m.Commit(resp.Xid)
}

// handleNak aborts the transaction, if any. Errors are swallowed: "silently
// accept" means the event never fails the caller, even when there is
// nothing to abort (a NAK for an xid this manager never tracked).
func (m *Manager) handleNak(resp *dhcp4.Message) error {
	_ = m.Abort(resp.Xid)
	return nil
}

// BindLease attaches l to the PENDING transaction for xid, moving it to
// BOUND. It rejects binding a transaction twice.
func (m *Manager) BindLease(xid uint32, l *lease.Lease) error {
	token, t, err := m.getTransaction(xid)
	if err != nil {
		return err
	}
	if t.State != StatePending {
		return fmt.Errorf("%w: xid=%d state=%s", ErrNotPending, xid, t.State)
	}
	if t.Pending != "" {
		return fmt.Errorf("%w: xid=%d", ErrAlreadyBound, xid)
	}

	pendingToken, err := m.store.PutPendingLease(l)
	if err != nil {
		return fmt.Errorf("txn: binding lease for xid=%d: %w", xid, err)
	}
	t.Pending = string(pendingToken)
	t.State = StateBound
	if err := m.saveTransaction(token, t); err != nil {
		return err
	}
	return nil
}

// PendingLease returns the lease bound to xid's transaction via BindLease,
// if any. The Responder uses this to recover the address it offered when
// building the ACK for the matching REQUEST.
func (m *Manager) PendingLease(xid uint32) (*lease.Lease, error) {
	_, t, err := m.getTransaction(xid)
	if err != nil {
		return nil, err
	}
	if t.Pending == "" {
		return nil, fmt.Errorf("txn: no pending lease for xid=%d", xid)
	}
	return m.store.GetPendingLease(lease.Token(t.Pending))
}

// Commit promotes the pending lease to the confirmed pool and discards the
// transaction. The pending-pool entry is deleted before the confirmed-pool
// entry is stored: if the store fails after deletion, the lease is lost
// rather than double-committed (at-most-once promotion).
func (m *Manager) Commit(xid uint32) error {
	token, t, err := m.getTransaction(xid)
	if err != nil {
		return err
	}
	if t.Pending == "" {
		return fmt.Errorf("txn: commit xid=%d with no bound lease", xid)
	}

	pendingToken := lease.Token(t.Pending)
	l, err := m.store.GetPendingLease(pendingToken)
	if err != nil {
		return fmt.Errorf("txn: loading pending lease for xid=%d: %w", xid, err)
	}

	if err := m.store.DeletePendingLease(pendingToken); err != nil {
		return fmt.Errorf("txn: deleting pending lease for xid=%d: %w", xid, err)
	}
	m.removeIndex(xid)
	if err := m.store.DeleteTransaction(token); err != nil {
		m.logger.Warn("failed to delete committed transaction record", zap.Uint32("xid", xid), zap.Error(err))
	}

	if err := m.store.PutLease(l); err != nil {
		return fmt.Errorf("txn: commit xid=%d: promoting lease failed, lease lost: %w", xid, err)
	}
	return nil
}

// Abort discards the transaction and its pending lease, if any. It does not
// free the underlying subnet reservation; the address stays allocated in
// its subnet.
func (m *Manager) Abort(xid uint32) error {
	token, t, err := m.getTransaction(xid)
	if err != nil {
		return err
	}
	m.removeIndex(xid)
	if t.Pending != "" {
		_ = m.store.DeletePendingLease(lease.Token(t.Pending))
	}
	return m.store.DeleteTransaction(token)
}

func (m *Manager) removeIndex(xid uint32) {
	m.mu.Lock()
	delete(m.index, xid)
	m.mu.Unlock()
}

// Watchout sweeps every tracked transaction and aborts those that have
// exceeded Timeout. It is meant to be called at roughly 10Hz by the server.
func (m *Manager) Watchout() {
	m.mu.Lock()
	xids := make([]uint32, 0, len(m.index))
	for xid := range m.index {
		xids = append(xids, xid)
	}
	m.mu.Unlock()

	now := timeNow()
	for _, xid := range xids {
		_, t, err := m.getTransaction(xid)
		if err != nil {
			continue
		}
		if t.outdated(now) {
			if err := m.Abort(xid); err != nil {
				m.logger.Warn("failed to abort outdated transaction", zap.Uint32("xid", xid), zap.Error(err))
			}
		}
	}
}

var timeNow = time.Now
