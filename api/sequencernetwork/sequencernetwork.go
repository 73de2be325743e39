/*
Package sequencernetwork implements a communication layer among sequencer
nodes in order to share transactions accepted into the pool, so that standby
sequencers and observers keep a warm copy of it.

To do so the pubsub gossip protocol is used.
This code is currently heavily based on this example: https://github.com/libp2p/go-libp2p/blob/master/examples/pubsub
*/
package sequencernetwork

import (
	"context"
	"crypto/ecdsa"
	"sync"

	"dispute-rollup/common"
	"dispute-rollup/log"

	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/peer"
	discovery "github.com/libp2p/go-libp2p-discovery"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/multiformats/go-multiaddr"
)

const (
	discoveryServiceTag = "dispute-rollup-sequencers-network"
	// DefaultListenAddr is used when the configuration carries no listen
	// address for the sequencers network
	DefaultListenAddr = "/ip4/0.0.0.0/tcp/3598"
)

// SequencerNetwork is a p2p communication layer that enables sequencer nodes
// to exchange information in benefit of the network and themselves.  The main
// goal is to replicate the transaction pool: only the active sequencer packs
// blocks, but every subscribed node keeps the pooled transactions at hand.
type SequencerNetwork struct {
	self      host.Host
	dht       *dht.IpfsDHT
	ctx       context.Context
	discovery *discovery.RoutingDiscovery
	txsPool   pubSubTxsPool
}

// NewSequencerNetwork connects to the p2p network: the node identity derives
// from the given Ethereum private key, the DHT bootstraps through the given
// peers and the pool topic is joined.  Received transactions are delivered to
// newPoolTxHandler.
func NewSequencerNetwork(
	ethPrivKey *ecdsa.PrivateKey,
	bootstrapPeers []multiaddr.Multiaddr,
	listenAddr string,
	newPoolTxHandler func(common.Tx) error,
) (SequencerNetwork, error) {
	ctx := context.Background()

	// Setup a libp2p host
	privKeyBytes := ethCrypto.FromECDSA(ethPrivKey)
	prvKey, err := crypto.UnmarshalSecp256k1PrivateKey(privKeyBytes)
	if err != nil {
		return SequencerNetwork{}, common.Wrap(err)
	}
	if listenAddr == "" {
		listenAddr = DefaultListenAddr
	}
	self, err := libp2p.New(ctx,
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.Identity(prvKey),
	)
	if err != nil {
		return SequencerNetwork{}, common.Wrap(err)
	}
	log.Info("Sequencers network ID: ", self.ID().Pretty())

	// Setup Kademlia DHT
	kademliaDHT, err := dht.New(ctx, self)
	if err != nil {
		return SequencerNetwork{}, common.Wrap(err)
	}
	if err := kademliaDHT.Bootstrap(ctx); err != nil {
		return SequencerNetwork{}, common.Wrap(err)
	}

	// Connect to the bootstrap nodes
	var wg sync.WaitGroup
	for _, peerAddr := range bootstrapPeers {
		peerinfo, err := peer.AddrInfoFromP2pAddr(peerAddr)
		if err != nil {
			log.Warnw("Error parsing bootstrap peer address",
				"addr", peerAddr.String(), "err", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := self.Connect(ctx, *peerinfo); err != nil {
				log.Warnw("Error connecting to bootstrap node",
					"peer", peerinfo.String(), "err", err)
			} else {
				log.Info("Connection established with bootstrap node: ",
					peerinfo.String())
			}
		}()
	}
	wg.Wait()

	// Announce the service so other sequencers can find this node
	routingDiscovery := discovery.NewRoutingDiscovery(kademliaDHT)
	discovery.Advertise(ctx, routingDiscovery, discoveryServiceTag)

	// Setup pubsub
	ps, err := pubsub.NewGossipSub(ctx, self)
	if err != nil {
		return SequencerNetwork{}, common.Wrap(err)
	}
	txsPool, err := joinPubSubTxsPool(ctx, ps, self.ID(), newPoolTxHandler)
	if err != nil {
		return SequencerNetwork{}, common.Wrap(err)
	}

	seqnet := SequencerNetwork{
		self:      self,
		dht:       kademliaDHT,
		ctx:       ctx,
		discovery: routingDiscovery,
		txsPool:   txsPool,
	}
	return seqnet, seqnet.findMorePeers()
}

// PublishTx broadcasts a pool transaction to the network
func (seqnet SequencerNetwork) PublishTx(tx common.Tx) error {
	return seqnet.txsPool.publish(tx)
}

// FindMorePeers queries the discovery service and connects to the returned
// sequencer peers
func (seqnet SequencerNetwork) FindMorePeers() error {
	return seqnet.findMorePeers()
}

func (seqnet SequencerNetwork) findMorePeers() error {
	peerChan, err := seqnet.discovery.FindPeers(seqnet.ctx, discoveryServiceTag)
	if err != nil {
		return common.Wrap(err)
	}
	for candidatePeer := range peerChan {
		if candidatePeer.ID == seqnet.self.ID() || len(candidatePeer.Addrs) == 0 {
			continue
		}
		if err := seqnet.self.Connect(seqnet.ctx, candidatePeer); err != nil {
			log.Debugw("Error connecting to sequencer peer",
				"peer", candidatePeer.ID.Pretty(), "err", err)
		} else {
			log.Debug("Connected to sequencer peer: ", candidatePeer.ID.Pretty())
		}
	}
	return nil
}

// Close leaves the pool topic and shuts the host down
func (seqnet SequencerNetwork) Close() error {
	seqnet.txsPool.close()
	if err := seqnet.dht.Close(); err != nil {
		return common.Wrap(err)
	}
	return common.Wrap(seqnet.self.Close())
}
