package link

import "errors"

var (
	ErrSocketClosed     = errors.New("link: socket closed")
	ErrChannelInUse     = errors.New("link: channel already bound")
	ErrInterfaceClosed  = errors.New("link: interface closed")
	ErrLinkClosed       = errors.New("link: link closed")
	ErrUnknownTransport = errors.New("link: unknown transport")
	ErrReceiveTimeout   = errors.New("link: receive timed out")
)
