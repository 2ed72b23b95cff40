// Package responder implements the Responder (C7): the message-type
// dispatcher that turns a decoded request into a reply or a drop.
package responder

import "github.com/lion7/dhcpd/internal/dhcp4"

// Handler answers a decoded DHCPv4 message, filling resp and invoking next
// to continue to any further handler in the chain. This mirrors the
// chain-of-responsibility shape the surrounding ambient stack used for one
// handler module per option; here the Responder is the only
// implementation. The server package does not use this interface: it
// calls Respond directly and writes its access-log entry itself.
type Handler interface {
	Handle4(req, resp *dhcp4.Message, next func() error) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(req, resp *dhcp4.Message, next func() error) error

func (f HandlerFunc) Handle4(req, resp *dhcp4.Message, next func() error) error {
	return f(req, resp, next)
}
