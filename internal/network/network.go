package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	libp2pNetwork "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/alphabill-org/ledgercore/internal/metrics"
)

const (
	ProtocolBlock       = "/ledgercore/block/1.0.0"
	ProtocolTransaction = "/ledgercore/tx/1.0.0"
)

var DefaultOptions = Options{
	ReceivedChannelCapacity: 1000,
	SendTimeout:             300 * time.Millisecond,
	ReadTimeout:             time.Second,
	MaxMessageSize:          2 << 20,
}

var (
	mSent     = metrics.GetOrRegisterCounter("network/messages/sent")
	mReceived = metrics.GetOrRegisterCounter("network/messages/received")
	mDropped  = metrics.GetOrRegisterCounter("network/messages/dropped")
)

type (
	Kind uint8

	// Message is a block or a transaction in canonical encoding received
	// from a peer.
	Message struct {
		Kind Kind
		From string
		Data []byte
	}

	Options struct {
		// How many messages will be buffered (ReceivedChannel) in case of slow consumer.
		// Once buffer is full messages will be dropped until consumer catches up.
		ReceivedChannelCapacity uint
		// per receiver timeout of a broadcast
		SendTimeout    time.Duration
		ReadTimeout    time.Duration
		MaxMessageSize uint64
	}

	// LibP2PNetwork gossips blocks and transactions to every connected peer.
	LibP2PNetwork struct {
		self         *Peer
		opts         Options
		receivedMsgs chan Message
	}
)

const (
	KindBlock Kind = iota + 1
	KindTransaction
)

func (k Kind) String() string {
	switch k {
	case KindBlock:
		return "block"
	case KindTransaction:
		return "transaction"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

func (k Kind) protocolID() string {
	if k == KindBlock {
		return ProtocolBlock
	}
	return ProtocolTransaction
}

// NewLibP2PNetwork registers the block and transaction protocols on self.
func NewLibP2PNetwork(self *Peer, opts Options) (*LibP2PNetwork, error) {
	if self == nil {
		return nil, errors.New("peer is nil")
	}
	switch {
	case opts.SendTimeout <= 0:
		return nil, fmt.Errorf("send timeout must be positive, got %s", opts.SendTimeout)
	case opts.ReadTimeout <= 0:
		return nil, fmt.Errorf("read timeout must be positive, got %s", opts.ReadTimeout)
	case opts.MaxMessageSize == 0:
		return nil, errors.New("max message size must be positive")
	}
	n := &LibP2PNetwork{
		self:         self,
		opts:         opts,
		receivedMsgs: make(chan Message, opts.ReceivedChannelCapacity),
	}
	self.RegisterProtocolHandler(ProtocolBlock, n.streamHandler(KindBlock))
	self.RegisterProtocolHandler(ProtocolTransaction, n.streamHandler(KindTransaction))
	return n, nil
}

func (n *LibP2PNetwork) ReceivedChannel() <-chan Message {
	return n.receivedMsgs
}

func (n *LibP2PNetwork) BroadcastBlock(ctx context.Context, data []byte) error {
	return n.broadcast(ctx, KindBlock, data)
}

func (n *LibP2PNetwork) BroadcastTransaction(ctx context.Context, data []byte) error {
	return n.broadcast(ctx, KindTransaction, data)
}

// Close unregisters the protocols, the peer stays open.
func (n *LibP2PNetwork) Close() {
	n.self.RemoveProtocolHandler(ProtocolBlock)
	n.self.RemoveProtocolHandler(ProtocolTransaction)
}

// broadcast sends data to all connected peers. It fails only when sending
// to every one of them failed.
func (n *LibP2PNetwork) broadcast(ctx context.Context, kind Kind, data []byte) error {
	receivers := n.self.ConnectedPeers()
	if len(receivers) == 0 {
		return nil
	}
	frame, err := serializeMsg(cbor.RawMessage(data))
	if err != nil {
		return fmt.Errorf("serializing %s: %w", kind, err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(receivers))
	for _, receiver := range receivers {
		wg.Add(1)
		go func(receiverID peer.ID) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, n.opts.SendTimeout)
			defer cancel()
			if err := n.send(sendCtx, kind.protocolID(), frame, receiverID); err != nil {
				errs <- fmt.Errorf("sending %s to %s: %w", kind, receiverID, err)
				return
			}
			mSent.Inc(1)
		}(receiver)
	}
	wg.Wait()
	close(errs)

	var allErr error
	count := 0
	for err := range errs {
		count++
		allErr = errors.Join(allErr, err)
	}
	if count == len(receivers) {
		return fmt.Errorf("broadcast failed: %w", allErr)
	}
	if allErr != nil {
		log.Debug("broadcast of %s partially failed: %v", kind, allErr)
	}
	return nil
}

func (n *LibP2PNetwork) send(ctx context.Context, protocolID string, data []byte, receiverID peer.ID) error {
	s, err := n.self.CreateStream(ctx, receiverID, protocolID)
	if err != nil {
		return fmt.Errorf("open p2p stream: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.SetWriteDeadline(deadline); err != nil {
			return errors.Join(fmt.Errorf("setting write deadline: %w", err), s.Reset())
		}
	}
	if _, err = s.Write(data); err != nil {
		// reset forces close of both ends of the stream
		return errors.Join(fmt.Errorf("writing data to p2p stream: %w", err), s.Reset())
	}
	if err = s.Close(); err != nil {
		return fmt.Errorf("closing p2p stream: %w", err)
	}
	return nil
}

func (n *LibP2PNetwork) streamHandler(kind Kind) libp2pNetwork.StreamHandler {
	return func(s libp2pNetwork.Stream) {
		from := s.Conn().RemotePeer()
		success := false
		defer func() {
			if success {
				if err := s.Close(); err != nil {
					log.Debug("closing %s stream from %s: %v", kind, from, err)
				}
			} else if err := s.Reset(); err != nil {
				log.Debug("resetting %s stream from %s: %v", kind, from, err)
			}
		}()
		if err := s.SetReadDeadline(time.Now().Add(n.opts.ReadTimeout)); err != nil {
			log.Warning("failed to set read deadline for %s stream: %v", kind, err)
			return
		}
		reader := bufio.NewReader(s)
		for {
			var raw cbor.RawMessage
			if err := deserializeMsg(reader, &raw, n.opts.MaxMessageSize); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				log.Warning("reading %s from %s: %v", kind, from, err)
				return
			}
			n.receivedMsg(Message{Kind: kind, From: from.String(), Data: raw})
		}
		success = true
	}
}

func (n *LibP2PNetwork) receivedMsg(m Message) {
	mReceived.Inc(1)
	select {
	case n.receivedMsgs <- m:
	default:
		mDropped.Inc(1)
		log.Warning("dropping %s from %s because of slow consumer", m.Kind, m.From)
	}
}
