package network

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	libp2pprotocol "github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/host/peerstore/pstoremem"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/alphabill-org/ledgercore/internal/logger"
)

const defaultAddress = "/ip4/0.0.0.0/tcp/0"

var ErrPeerConfigurationIsNil = errors.New("peer configuration is nil")

var log = logger.CreateForPackage()

type (
	// PeerConfiguration includes single peer configuration values.
	PeerConfiguration struct {
		ID             peer.ID         // peer identifier derived from the KeyPair.PublicKey.
		Address        string          // address to listen for incoming connections. Uses libp2p multiaddress format.
		KeyPair        *PeerKeyPair    // keypair for the peer.
		BootstrapPeers []peer.AddrInfo // a list of seed peers to connect to.
	}

	// PeerKeyPair contains node's public and private key.
	PeerKeyPair struct {
		PublicKey  []byte
		PrivateKey []byte
	}

	// Peer represents a single node in p2p network. It is a wrapper around the libp2p host.Host.
	Peer struct {
		host host.Host
		conf *PeerConfiguration
	}
)

// NewPeer constructs a new peer node with given configuration. If no transport and listen addresses are provided,
// the node listens to the multiaddresses "/ip4/0.0.0.0/tcp/0".
func NewPeer(conf *PeerConfiguration) (*Peer, error) {
	if conf == nil {
		return nil, ErrPeerConfigurationIsNil
	}
	privateKey, err := readKeyPair(conf)
	if err != nil {
		return nil, err
	}

	address := defaultAddress
	if conf.Address != "" {
		address = conf.Address
	}

	peerStore, err := pstoremem.NewPeerstore()
	if err != nil {
		return nil, err
	}

	h, err := libp2p.New(
		libp2p.ListenAddrStrings(address),
		libp2p.Identity(privateKey),
		libp2p.Peerstore(peerStore),
		libp2p.Ping(true),
		libp2p.DisableMetrics(),
	)
	if err != nil {
		return nil, err
	}
	log.Debug("peer %s listening on %v, bootstrap peers %v", h.ID(), h.Addrs(), conf.BootstrapPeers)
	return &Peer{host: h, conf: conf}, nil
}

// BootstrapConnect dials the bootstrap peers. It fails only when none of
// them could be reached.
func (p *Peer) BootstrapConnect(ctx context.Context) error {
	if len(p.conf.BootstrapPeers) == 0 {
		return nil
	}

	errs := make(chan error, len(p.conf.BootstrapPeers))
	var wg sync.WaitGroup
	for _, peerAddr := range p.conf.BootstrapPeers {
		// dial in parallel, one hanging peer must not use up the context of the others
		wg.Add(1)
		go func(peerAddr peer.AddrInfo) {
			defer wg.Done()
			p.host.Peerstore().AddAddrs(peerAddr.ID, peerAddr.Addrs, peerstore.PermanentAddrTTL)
			if err := p.host.Connect(ctx, peerAddr); err != nil {
				log.Warning("bootstrap dial %s to %s failed: %v", p.host.ID(), peerAddr.ID, err)
				errs <- err
				return
			}
			log.Debug("bootstrap dial %s to %s: success", p.host.ID(), peerAddr.ID)
		}(peerAddr)
	}
	wg.Wait()
	close(errs)

	var allErr error
	count := 0
	for err := range errs {
		count++
		allErr = errors.Join(allErr, err)
	}
	if count == len(p.conf.BootstrapPeers) {
		return fmt.Errorf("failed to bootstrap: %w", allErr)
	}
	return nil
}

// ID returns the identifier associated with this Peer.
func (p *Peer) ID() peer.ID {
	return p.host.ID()
}

// String returns short representation of node id
func (p *Peer) String() string {
	id := p.ID().String()
	if len(id) <= 10 {
		return fmt.Sprintf("NodeID:%s", id)
	}
	return fmt.Sprintf("NodeID:%s*%s", id[:2], id[len(id)-6:])
}

// MultiAddresses the address associated with this Peer.
func (p *Peer) MultiAddresses() []ma.Multiaddr {
	return p.host.Addrs()
}

// AddrInfo is what other peers need to connect to this one.
func (p *Peer) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: p.ID(), Addrs: p.MultiAddresses()}
}

// Network returns the Network of the Peer.
func (p *Peer) Network() network.Network {
	return p.host.Network()
}

// ConnectedPeers returns the peers this one has an open connection with.
func (p *Peer) ConnectedPeers() []peer.ID {
	return p.host.Network().Peers()
}

// RegisterProtocolHandler sets the protocol stream handler for given protocol.
func (p *Peer) RegisterProtocolHandler(protocolID string, handler network.StreamHandler) {
	p.host.SetStreamHandler(libp2pprotocol.ID(protocolID), handler)
}

// RemoveProtocolHandler removes the given protocol handler.
func (p *Peer) RemoveProtocolHandler(protocolID string) {
	p.host.RemoveStreamHandler(libp2pprotocol.ID(protocolID))
}

// CreateStream opens a new stream to given peer p, and writes a libp2p protocol header with given ProtocolID.
func (p *Peer) CreateStream(ctx context.Context, peerID peer.ID, protocolID string) (network.Stream, error) {
	return p.host.NewStream(ctx, peerID, libp2pprotocol.ID(protocolID))
}

// Configuration returns peer configuration
func (p *Peer) Configuration() *PeerConfiguration {
	return p.conf
}

// Close shuts down the libp2p host.
func (p *Peer) Close() error {
	if err := p.host.Close(); err != nil {
		return fmt.Errorf("closing the host: %w", err)
	}
	return nil
}

func NewPeerConfiguration(addr string, keyPair *PeerKeyPair, bootstrapPeers []peer.AddrInfo) (*PeerConfiguration, error) {
	if keyPair == nil {
		return nil, fmt.Errorf("missing key pair")
	}
	peerID, err := NodeIDFromPublicKeyBytes(keyPair.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid key pair: %w", err)
	}
	return &PeerConfiguration{
		ID:             peerID,
		Address:        addr,
		KeyPair:        keyPair,
		BootstrapPeers: bootstrapPeers,
	}, nil
}

// ParseBootstrapPeers parses peer addresses in "/ip4/1.2.3.4/tcp/26652/p2p/<peer id>" form.
func ParseBootstrapPeers(addrs []string) ([]peer.AddrInfo, error) {
	var res []peer.AddrInfo
	for _, s := range addrs {
		info, err := peer.AddrInfoFromString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid bootstrap peer address %q: %w", s, err)
		}
		res = append(res, *info)
	}
	return res, nil
}

// GeneratePeerKeyPair creates a new secp256k1 identity key.
func GeneratePeerKeyPair() (*PeerKeyPair, error) {
	privateKey, publicKey, err := crypto.GenerateSecp256k1Key(rand.Reader)
	if err != nil {
		return nil, err
	}
	privBytes, err := privateKey.Raw()
	if err != nil {
		return nil, err
	}
	pubBytes, err := publicKey.Raw()
	if err != nil {
		return nil, err
	}
	return &PeerKeyPair{PublicKey: pubBytes, PrivateKey: privBytes}, nil
}

// PeerKeyPairFromPrivateKey restores the key pair of a raw secp256k1 private key.
func PeerKeyPairFromPrivateKey(privKey []byte) (*PeerKeyPair, error) {
	privateKey, err := crypto.UnmarshalSecp256k1PrivateKey(privKey)
	if err != nil {
		return nil, err
	}
	pubBytes, err := privateKey.GetPublic().Raw()
	if err != nil {
		return nil, err
	}
	return &PeerKeyPair{PublicKey: pubBytes, PrivateKey: privKey}, nil
}

func NodeIDFromPublicKeyBytes(pubKey []byte) (peer.ID, error) {
	pub, err := crypto.UnmarshalSecp256k1PublicKey(pubKey)
	if err != nil {
		return "", err
	}
	return peer.IDFromPublicKey(pub)
}

func readKeyPair(conf *PeerConfiguration) (crypto.PrivKey, error) {
	if conf.KeyPair == nil {
		return nil, fmt.Errorf("missing peer key")
	}
	privateKey, err := crypto.UnmarshalSecp256k1PrivateKey(conf.KeyPair.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if _, err := crypto.UnmarshalSecp256k1PublicKey(conf.KeyPair.PublicKey); err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return privateKey, nil
}
