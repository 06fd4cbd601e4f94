package network

import (
	"context"
	"slices"
	"sync"
)

type (
	// LoopbackHub connects nodes of one process without a transport. Every
	// message a member broadcasts is delivered to all other connected members.
	LoopbackHub struct {
		mu      sync.RWMutex
		members []*Loopback
	}

	// Loopback is a member of a LoopbackHub.
	Loopback struct {
		hub          *LoopbackHub
		name         string
		receivedMsgs chan Message
		mu           sync.RWMutex
		connected    bool
	}
)

func NewLoopbackHub() *LoopbackHub {
	return &LoopbackHub{}
}

// Join adds a member, up to capacity messages are buffered for it.
func (h *LoopbackHub) Join(name string, capacity int) *Loopback {
	l := &Loopback{hub: h, name: name, receivedMsgs: make(chan Message, capacity), connected: true}
	h.mu.Lock()
	h.members = append(h.members, l)
	h.mu.Unlock()
	return l
}

func (l *Loopback) ReceivedChannel() <-chan Message {
	return l.receivedMsgs
}

// SetConnected cuts off (false) or reconnects (true) the member. Messages
// are neither sent nor received by a disconnected member.
func (l *Loopback) SetConnected(connected bool) {
	l.mu.Lock()
	l.connected = connected
	l.mu.Unlock()
}

func (l *Loopback) isConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

func (l *Loopback) BroadcastBlock(ctx context.Context, data []byte) error {
	return l.broadcast(ctx, KindBlock, data)
}

func (l *Loopback) BroadcastTransaction(ctx context.Context, data []byte) error {
	return l.broadcast(ctx, KindTransaction, data)
}

func (l *Loopback) broadcast(ctx context.Context, kind Kind, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !l.isConnected() {
		return nil
	}
	l.hub.mu.RLock()
	members := slices.Clone(l.hub.members)
	l.hub.mu.RUnlock()
	for _, m := range members {
		if m == l || !m.isConnected() {
			continue
		}
		msg := Message{Kind: kind, From: l.name, Data: slices.Clone(data)}
		select {
		case m.receivedMsgs <- msg:
		default:
			mDropped.Inc(1)
			log.Warning("loopback: dropping %s from %s to %s because of slow consumer", kind, l.name, m.name)
		}
	}
	return nil
}
