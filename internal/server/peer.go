package server

import (
	"context"
	"errors"
	"sync"

	"github.com/coder/websocket"

	"github.com/shelltether/shelltether/internal/proto"
)

// errPeerChannelFull is returned by Peer.Send when the bounded outbound
// channel is saturated; a slow peer is treated as disconnected rather
// than allowed to block the sender.
var errPeerChannelFull = errors.New("server: peer outbound channel full")

// errPeerClosed is returned by Peer.Send once the peer has been closed.
// State methods that hold a *Peer captured before the lock was released
// (SendToAgent, SendToUser, BroadcastToInstance, broadcastToAgentUsers)
// may still call Send concurrently with the connection handler's
// teardown; this must be a normal error return, never a panic.
var errPeerClosed = errors.New("server: peer closed")

// peerChannelSize bounds each peer's outbound channel.
const peerChannelSize = 256

// Peer is the outbound sink side of one control channel (agent or user).
// Encoding happens in Send so callers never touch raw frames; Forward
// drains the channel onto a live websocket connection until a write
// fails or the context is cancelled (Close does not stop it). The channel itself is never
// closed from the consumer side, since a producer may already hold this
// *Peer and be mid-Send; Forward instead exits via ctx cancellation and
// Send is gated by a closed flag under mu.
type Peer struct {
	ch chan []byte

	mu     sync.Mutex
	closed bool
}

func newPeer() *Peer {
	return &Peer{ch: make(chan []byte, peerChannelSize)}
}

// Send encodes msg and enqueues it. A full channel means the peer is too
// slow to keep up; the caller drops the peer rather than blocking. Once
// the peer is closed, Send always returns errPeerClosed instead of
// writing to the channel.
func (p *Peer) Send(msg any) error {
	raw, err := proto.Encode(msg)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPeerClosed
	}
	select {
	case p.ch <- raw:
		return nil
	default:
		return errPeerChannelFull
	}
}

// Forward writes every enqueued frame to conn until the connection
// write fails or ctx is done.
func (p *Peer) Forward(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-p.ch:
			if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
				return
			}
		}
	}
}

// Close marks the peer closed so subsequent Send calls fail cleanly.
// The connection handler cancels Forward's context separately; Close
// never closes p.ch, since a concurrent Send on a closed channel would
// panic.
func (p *Peer) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
