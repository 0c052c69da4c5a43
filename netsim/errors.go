package netsim

import "errors"

// ErrTimedOut is returned by Receive when no datagram arrives within the
// requested timeout. It is an expected, routine condition during the
// data-phase ACK poll, not a failure.
var ErrTimedOut = errors.New("netsim: receive timed out")

var errNoPeer = errors.New("netsim: no peer address set")
