package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ainvaltin/httpsrv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alphabill-org/ledgercore/internal/logger"
	"github.com/alphabill-org/ledgercore/internal/network"
	"github.com/alphabill-org/ledgercore/internal/node"
	"github.com/alphabill-org/ledgercore/internal/rpc"
)

const (
	defaultP2PAddress  = "/ip4/127.0.0.1/tcp/26652"
	defaultRESTAddress = "localhost:26866"
	defaultDataDir     = "data"
)

var log = logger.CreateForPackage()

type nodeConfig struct {
	Base *baseConfiguration
	Keys *keysConfig

	GenesisFile        string
	Address            string
	BootstrapPeers     []string
	RESTAddress        string
	RESTMaxBodyBytes   int64
	Storage            string
	DataDir            string
	Produce            bool
	BlockInterval      time.Duration
	CheckpointInterval time.Duration
}

// nodeRunnable is the function run by the node command, tests replace it.
type nodeRunnable func(ctx context.Context, config *nodeConfig) error

func newNodeCmd(baseConfig *baseConfiguration, runFunc nodeRunnable) *cobra.Command {
	config := &nodeConfig{Base: baseConfig, Keys: &keysConfig{Base: baseConfig}}
	var cmd = &cobra.Command{
		Use:   "node",
		Short: "Starts a ledger node",
		Long:  `Starts a ledger node: joins the p2p network, validates and relays blocks and transactions and serves the REST API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runFunc != nil {
				return runFunc(cmd.Context(), config)
			}
			return runNode(cmd.Context(), config)
		},
	}
	config.Keys.addKeyFileFlags(cmd)
	cmd.Flags().StringVar(&config.GenesisFile, "genesis", "", fmt.Sprintf("path to the genesis file (default: %s)", filepath.Join("$LC_HOME", defaultGenesisFileName)))
	cmd.Flags().StringVar(&config.Address, "address", defaultP2PAddress, "p2p listen address in multiaddress format")
	cmd.Flags().StringSliceVar(&config.BootstrapPeers, "bootstrap", nil, "bootstrap peer in form /ip4/<ip>/tcp/<port>/p2p/<peer id>, may be repeated")
	cmd.Flags().StringVar(&config.RESTAddress, "rest-address", defaultRESTAddress, "REST API listen address, empty disables the REST API")
	cmd.Flags().Int64Var(&config.RESTMaxBodyBytes, "rest-max-body", rpc.DefaultMaxBodyBytes, "maximum size of the REST request body in bytes")
	cmd.Flags().StringVar(&config.Storage, "storage", node.StorageBolt, fmt.Sprintf("storage engine, one of: %s, %s, %s", node.StorageBolt, node.StorageBadger, node.StorageMemory))
	cmd.Flags().StringVar(&config.DataDir, "data-dir", "", fmt.Sprintf("directory of the block database (default: %s)", filepath.Join("$LC_HOME", defaultDataDir)))
	cmd.Flags().BoolVar(&config.Produce, "produce", false, "propose blocks with the account key")
	cmd.Flags().DurationVar(&config.BlockInterval, "block-interval", 10*time.Second, "block proposal interval, used with --produce")
	cmd.Flags().DurationVar(&config.CheckpointInterval, "checkpoint-interval", node.DefaultCheckpointInterval, "interval of persisting the ledger state")
	return cmd
}

func (c *nodeConfig) getGenesisFile() string {
	if c.GenesisFile != "" {
		return c.GenesisFile
	}
	return filepath.Join(c.Base.HomeDir, defaultGenesisFileName)
}

func (c *nodeConfig) getDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return filepath.Join(c.Base.HomeDir, defaultDataDir)
}

func runNode(ctx context.Context, config *nodeConfig) error {
	genesis, err := node.LoadGenesis(config.getGenesisFile())
	if err != nil {
		return err
	}
	keys, err := LoadKeys(config.Keys.GetKeyFileLocation(), config.Keys.Passphrase)
	if err != nil {
		return fmt.Errorf("loading keys: %w", err)
	}
	signer, err := keys.AccountKey.Signer()
	if err != nil {
		return fmt.Errorf("account key: %w", err)
	}
	rule, err := genesis.NewRule(signer)
	if err != nil {
		return err
	}

	peer, err := newPeer(config, keys.PeerKey)
	if err != nil {
		return err
	}
	defer func() {
		if err := peer.Close(); err != nil {
			log.Warning("closing p2p peer: %v", err)
		}
	}()
	net, err := network.NewLibP2PNetwork(peer, network.DefaultOptions)
	if err != nil {
		return fmt.Errorf("creating network: %w", err)
	}
	defer net.Close()

	opts := []node.Option{
		node.WithStorage(config.Storage, config.getDataDir()),
		node.WithNetwork(net),
		node.WithCheckpointInterval(config.CheckpointInterval),
	}
	if config.Produce {
		opts = append(opts, node.WithBlockProduction(keys.AccountKey.PubKey, config.BlockInterval))
	}
	n, err := node.New(genesis, rule, opts...)
	if err != nil {
		return fmt.Errorf("creating node: %w", err)
	}
	defer func() {
		if err := n.Close(); err != nil {
			log.Warning("closing node: %v", err)
		}
	}()

	alg, err := genesis.HashAlg()
	if err != nil {
		return err
	}
	logger.SetContext("peer", peer.ID().ShortString())
	log.Info("starting node: peer %s, account %s, tip %s", peer.ID(), keys.AccountKey.Address(alg), n.GetTip().Hash.Short())

	if err := peer.BootstrapConnect(ctx); err != nil {
		log.Warning("%v", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.Run(ctx) })
	if config.RESTAddress != "" {
		g.Go(func() error {
			server := rpc.NewRESTServer(config.RESTAddress, config.RESTMaxBodyBytes, rpc.NodeEndpoints(n))
			log.Info("REST server starting on %s", server.Addr)
			return httpsrv.Run(ctx, *server, httpsrv.ShutdownTimeout(5*time.Second))
		})
	}
	return g.Wait()
}

func newPeer(config *nodeConfig, keyPair *network.PeerKeyPair) (*network.Peer, error) {
	bootstrapPeers, err := network.ParseBootstrapPeers(config.BootstrapPeers)
	if err != nil {
		return nil, err
	}
	peerConf, err := network.NewPeerConfiguration(config.Address, keyPair, bootstrapPeers)
	if err != nil {
		return nil, err
	}
	peer, err := network.NewPeer(peerConf)
	if err != nil {
		return nil, fmt.Errorf("creating p2p peer: %w", err)
	}
	return peer, nil
}
