package responder

import (
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/lion7/dhcpd/internal/alloc"
	"github.com/lion7/dhcpd/internal/dhcp4"
	"github.com/lion7/dhcpd/internal/hwaddr"
	"github.com/lion7/dhcpd/internal/lease"
	"github.com/lion7/dhcpd/internal/subnet"
	"github.com/lion7/dhcpd/internal/txn"
)

// defaultLeaseDuration is used only when a subnet's defaults carry no
// lease-time option at all, which a correctly configured subnet never does.
const defaultLeaseDuration = time.Hour

// Responder is the C7 message-type dispatcher: given a decoded request it
// produces a reply, or (nil, nil) to signal "drop".
type Responder struct {
	subnets       *subnet.Map
	static        *alloc.StaticAllocator
	dynamic       *alloc.DynamicAllocator
	txns          *txn.Manager
	store         lease.Store
	serverID      net.IP
	autoConfigure bool
	logger        *zap.Logger
}

// New wires a Responder over the allocation chain, transaction manager and
// lease store. serverID is the value placed in option 54 on every reply and
// compared against option 54 on inbound REQUESTs; autoConfigure enables the
// RFC 2563 fallback OFFER when the allocation chain has no address left.
func New(subnets *subnet.Map, static *alloc.StaticAllocator, dynamic *alloc.DynamicAllocator, txns *txn.Manager, store lease.Store, serverID net.IP, autoConfigure bool, logger *zap.Logger) *Responder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Responder{
		subnets:       subnets,
		static:        static,
		dynamic:       dynamic,
		txns:          txns,
		store:         store,
		serverID:      serverID,
		autoConfigure: autoConfigure,
		logger:        logger,
	}
}

// Respond is the Responder's contract: an inbound message in, a reply (or
// nil for "drop") out.
func (r *Responder) Respond(req *dhcp4.Message) (*dhcp4.Message, error) {
	if err := r.txns.HandleInput(req); err != nil {
		r.logger.Debug("transaction manager declined input", zap.Uint32("xid", req.Xid), zap.Error(err))
	}

	mt, ok := req.Options.MessageType()
	if !ok {
		return nil, nil
	}

	switch mt {
	case dhcp4.MessageTypeDiscover:
		return r.discover(req), nil
	case dhcp4.MessageTypeRequest:
		return r.request(req), nil
	case dhcp4.MessageTypeDecline:
		r.decline(req)
		return nil, nil
	case dhcp4.MessageTypeRelease:
		r.release(req)
		return nil, nil
	case dhcp4.MessageTypeInform:
		return r.inform(req), nil
	default:
		return nil, nil
	}
}

// Handle4 adapts Respond to Handler, for callers that drive a
// middleware-style chain rather than calling Respond directly. On a drop it
// returns nil without calling next.
func (r *Responder) Handle4(req, resp *dhcp4.Message, next func() error) error {
	reply, err := r.Respond(req)
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	*resp = *reply
	return next()
}

var _ Handler = (*Responder)(nil)

// allocate runs the Static -> Dynamic composition: a registered static
// reservation wins outright; otherwise the Dynamic Allocator draws from
// the subnet matching giaddr or the requested-IP option.
func (r *Responder) allocate(req *dhcp4.Message) (*alloc.AllocationDraft, *subnet.Subnet, error) {
	draft, err := r.static.Allocate(req)
	if err != nil {
		if !errors.Is(err, alloc.ErrNoStaticAllocation) {
			return nil, nil, err
		}
		draft, err = r.dynamic.Allocate(req)
		if err != nil {
			return nil, nil, err
		}
	}
	sn, ok := r.subnets.GetMatching(draft.IPAddr)
	if !ok {
		return nil, nil, alloc.ErrNoMatchingSubnet
	}
	return draft, sn, nil
}

func (r *Responder) discover(req *dhcp4.Message) *dhcp4.Message {
	draft, sn, err := r.allocate(req)
	if err != nil {
		if errors.Is(err, subnet.ErrOutOfAddresses) || errors.Is(err, alloc.ErrNoSubnet) {
			if fallback := r.autoConfigureOffer(req); fallback != nil {
				return fallback
			}
		}
		r.logger.Debug("no address available for discover", zap.Uint32("xid", req.Xid), zap.Error(err))
		_ = r.txns.Abort(req.Xid)
		return nil
	}

	hw := hwaddr.New(req.CHAddr[:])
	cid := alloc.ClientID(req)
	hostname, _ := req.Options.Text(dhcp4.CodeHostName)
	l, err := lease.New(draft.IPAddr, sn, leaseDuration(draft.Options), hw, cid, hostname)
	if err != nil {
		r.logger.Warn("discover produced an invalid lease", zap.Uint32("xid", req.Xid), zap.Error(err))
		_ = r.txns.Abort(req.Xid)
		return nil
	}

	if err := r.txns.BindLease(req.Xid, l); err != nil {
		r.logger.Warn("failed to bind offered lease", zap.Uint32("xid", req.Xid), zap.Error(err))
		return nil
	}

	resp := dhcp4.NewReply(req)
	resp.YIAddr = draft.IPAddr
	// draft.Options may be the Static Allocator's shared registry entry
	// (not a per-request clone, unlike the Dynamic Allocator's); clone
	// before stamping reply-only fields onto it.
	resp.Options = draft.Options.Clone()
	r.fillCommon(resp, req, dhcp4.MessageTypeOffer)

	if err := r.txns.HandleOutput(resp); err != nil {
		r.logger.Warn("transaction manager rejected offer", zap.Uint32("xid", req.Xid), zap.Error(err))
	}
	return resp
}

func (r *Responder) request(req *dhcp4.Message) *dhcp4.Message {
	if serverID, ok := req.Options.ServerID(); ok && !serverID.IsUnspecified() && !serverID.Equal(r.serverID) {
		// a sibling server was chosen; HandleInput already aborted our
		// transaction and its pending lease on the way in. Stay silent.
		return nil
	}

	l, err := r.txns.PendingLease(req.Xid)
	if err != nil {
		// no OFFER round tracked for this xid: either a direct renewal
		// (RENEWING/REBINDING) or INIT-REBOOT confirming a lease from a
		// previous server session.
		return r.renew(req)
	}

	if reqIP, ok := req.Options.RequestedIP(); ok && !reqIP.Equal(l.Addr) {
		return r.nak(req)
	}
	if !req.CIAddr.IsUnspecified() && !req.CIAddr.Equal(l.Addr) {
		return r.nak(req)
	}

	resp := dhcp4.NewReply(req)
	resp.YIAddr = l.Addr
	resp.CIAddr = req.CIAddr
	if sn, ok := r.subnets.GetMatching(l.Addr); ok {
		resp.Options = sn.Defaults().Clone()
	}
	resp.Options.SetLeaseTime(uint32(l.Remaining().Seconds()))
	r.fillCommon(resp, req, dhcp4.MessageTypeAck)

	if err := r.txns.HandleOutput(resp); err != nil {
		r.logger.Warn("failed to commit requested lease", zap.Uint32("xid", req.Xid), zap.Error(err))
		return r.nak(req)
	}
	return resp
}

// renew answers a REQUEST with no tracked transaction by looking the
// address up directly in the confirmed lease pool, extending it if the
// requesting client still owns it.
func (r *Responder) renew(req *dhcp4.Message) *dhcp4.Message {
	addr := req.CIAddr
	if reqIP, ok := req.Options.RequestedIP(); ok {
		addr = reqIP
	}
	if addr == nil || addr.IsUnspecified() {
		return nil
	}

	existing, err := r.store.GetLease(addr)
	if err != nil {
		// not a lease this server knows about; another server may be
		// authoritative for it, so stay silent rather than NAK.
		return nil
	}
	if existing.CID != alloc.ClientID(req) {
		return r.nak(req)
	}

	sn, ok := r.subnets.GetMatching(addr)
	if !ok {
		return r.nak(req)
	}
	if err := existing.Extend(leaseDuration(sn.Defaults())); err != nil {
		return r.nak(req)
	}
	if err := r.store.PutLease(existing); err != nil {
		r.logger.Warn("failed to persist renewed lease", zap.Stringer("addr", addr), zap.Error(err))
		return r.nak(req)
	}

	resp := dhcp4.NewReply(req)
	resp.YIAddr = existing.Addr
	resp.CIAddr = req.CIAddr
	resp.Options = sn.Defaults().Clone()
	resp.Options.SetLeaseTime(uint32(existing.Remaining().Seconds()))
	r.fillCommon(resp, req, dhcp4.MessageTypeAck)
	return resp
}

func (r *Responder) nak(req *dhcp4.Message) *dhcp4.Message {
	_ = r.txns.Abort(req.Xid)
	resp := dhcp4.NewReply(req)
	r.fillCommon(resp, req, dhcp4.MessageTypeNak)
	return resp
}

func (r *Responder) decline(req *dhcp4.Message) {
	addr, ok := req.Options.RequestedIP()
	if !ok {
		addr = req.CIAddr
	}
	if addr == nil || addr.IsUnspecified() {
		return
	}
	if sn, ok := r.subnets.GetMatching(addr); ok {
		if err := sn.ForceAllocate(addr); err != nil && !errors.Is(err, subnet.ErrAlreadyAllocated) {
			r.logger.Warn("failed to mark declined address reserved", zap.Stringer("addr", addr), zap.Error(err))
		}
	}
	if err := r.store.DeleteLease(addr); err != nil && !errors.Is(err, lease.ErrNotFound) {
		r.logger.Warn("failed to delete declined lease", zap.Stringer("addr", addr), zap.Error(err))
	}
	_ = r.txns.Abort(req.Xid)
}

func (r *Responder) release(req *dhcp4.Message) {
	addr := req.CIAddr
	if addr == nil || addr.IsUnspecified() {
		return
	}
	if sn, ok := r.subnets.GetMatching(addr); ok {
		if err := sn.Free(addr); err != nil && !errors.Is(err, subnet.ErrNotAllocated) {
			r.logger.Warn("failed to free released address", zap.Stringer("addr", addr), zap.Error(err))
		}
	}
	if err := r.store.DeleteLease(addr); err != nil && !errors.Is(err, lease.ErrNotFound) {
		r.logger.Warn("failed to delete released lease", zap.Stringer("addr", addr), zap.Error(err))
	}
}

func (r *Responder) inform(req *dhcp4.Message) *dhcp4.Message {
	resp := dhcp4.NewReply(req)
	resp.YIAddr = net.IPv4zero
	if sn, ok := r.subnets.GetMatching(req.CIAddr); ok {
		resp.Options = sn.Defaults().Clone()
		resp.Options.Unset(dhcp4.CodeLeaseTime)
	}
	r.fillCommon(resp, req, dhcp4.MessageTypeAck)
	return resp
}

// autoConfigureOffer implements the RFC 2563 fallback: a DISCOVER that
// opted into auto-configuration gets an OFFER with yiaddr unset instead of
// being dropped when the allocation chain has nothing to offer.
func (r *Responder) autoConfigureOffer(req *dhcp4.Message) *dhcp4.Message {
	if !r.autoConfigure {
		return nil
	}
	v, ok := req.Options.Uint8(dhcp4.CodeAutoConfigure)
	if !ok || v != 1 {
		return nil
	}
	resp := dhcp4.NewReply(req)
	resp.Options.SetUint8(dhcp4.CodeAutoConfigure, 1)
	r.fillCommon(resp, req, dhcp4.MessageTypeOffer)
	return resp
}

// fillCommon sets the reply fields every path shares: message type, our
// server identifier, and the client's own identifier copied back verbatim.
func (r *Responder) fillCommon(resp, req *dhcp4.Message, mt dhcp4.MessageType) {
	resp.Options.SetMessageType(mt)
	resp.Options.SetServerID(r.serverID)
	if cid, ok := req.Options.ClientID(); ok {
		resp.Options.SetClientID(cid)
	}
}

func leaseDuration(o *dhcp4.Options) time.Duration {
	if secs, ok := o.LeaseTime(); ok {
		return time.Duration(secs) * time.Second
	}
	return defaultLeaseDuration
}
