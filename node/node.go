/*
Package node does the initialization of all the required objects to run a
dispute rollup node, either as a sequencer or as an observer.

A node in sequencer mode runs the full write path: the batch processor and
the sequencer hold the rollup state, the coordinator drives block production
and the batch lifecycle in the background, and the optional settlement client
forwards committed batch commitments to the upper layer.  A node in observer
mode keeps the same components but no coordinator, so it produces nothing: it
pools transactions relayed over the sequencers network and answers explorer
queries, backed by the shared archive database when one is configured.

The HTTP API is wrapped in a NodeAPI so that the node can run it in a
background goroutine and shut it down gracefully through the node context.
*/
package node

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"dispute-rollup/api"
	"dispute-rollup/batchprocessor"
	"dispute-rollup/common"
	"dispute-rollup/config"
	"dispute-rollup/coordinator"
	"dispute-rollup/database"
	"dispute-rollup/database/historydb"
	"dispute-rollup/log"
	"dispute-rollup/sequencer"
	"dispute-rollup/settlement"

	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/multiformats/go-multiaddr"
)

// Mode sets the working mode of the node (sequencer or observer)
type Mode string

const (
	// ModeSequencer runs the full write path: the node accepts
	// transactions, produces blocks, commits batches and forwards their
	// commitments to the settlement layer
	ModeSequencer Mode = "sequencer"

	// ModeObserver runs only the read side: the node follows the
	// transaction flow on the sequencers network and serves the explorer
	// endpoints without producing anything
	ModeObserver Mode = "observer"
)

// Node is the dispute rollup node
type Node struct {
	nodeAPI *NodeAPI
	coord   *coordinator.Coordinator
	seq     *sequencer.Sequencer
	bp      *batchprocessor.BatchProcessor

	// General
	cfg          *config.Node
	mode         Mode
	sqlConnRead  *sqlx.DB
	sqlConnWrite *sqlx.DB
	historyDB    *historydb.HistoryDB
	ctx          context.Context
	wg           sync.WaitGroup
	cancel       context.CancelFunc
}

// NewNode creates a Node
func NewNode(mode Mode, cfg *config.Node, version string) (*Node, error) {
	// Establish DB connection when the archive is enabled
	var sqlConnWrite, sqlConnRead *sqlx.DB
	var historyDB *historydb.HistoryDB
	var err error
	if cfg.PostgreSQL.HostWrite != "" {
		sqlConnWrite, err = database.InitSQLDB(
			cfg.PostgreSQL.PortWrite,
			cfg.PostgreSQL.HostWrite,
			cfg.PostgreSQL.UserWrite,
			cfg.PostgreSQL.PasswordWrite,
			cfg.PostgreSQL.NameWrite,
		)
		if err != nil {
			return nil, common.Wrap(fmt.Errorf("database.InitSQLDB: %w", err))
		}
		if cfg.PostgreSQL.HostRead == "" {
			sqlConnRead = sqlConnWrite
		} else if cfg.PostgreSQL.HostRead == cfg.PostgreSQL.HostWrite {
			return nil, common.Wrap(fmt.Errorf(
				"PostgreSQL.HostRead and PostgreSQL.HostWrite must be different",
			))
		} else {
			sqlConnRead, err = database.InitSQLDB(
				cfg.PostgreSQL.PortRead,
				cfg.PostgreSQL.HostRead,
				cfg.PostgreSQL.UserRead,
				cfg.PostgreSQL.PasswordRead,
				cfg.PostgreSQL.NameRead,
			)
			if err != nil {
				return nil, common.Wrap(fmt.Errorf("database.InitSQLDB: %w", err))
			}
		}
		apiConnCon := database.NewAPIConnectionController(
			cfg.API.MaxSQLConnections,
			cfg.API.SQLConnectionTimeout.Duration,
		)
		historyDB = historydb.NewHistoryDB(sqlConnRead, sqlConnWrite, apiConnCon)
	}

	bp := batchprocessor.NewBatchProcessor(batchprocessor.Config{
		MinBatchSize:    cfg.BatchProcessor.MinBatchSize,
		MaxBatchSize:    cfg.BatchProcessor.MaxBatchSize,
		BatchInterval:   cfg.BatchProcessor.BatchInterval.Duration,
		ChallengePeriod: cfg.BatchProcessor.ChallengePeriod.Duration,
	})
	seq := sequencer.NewSequencer(sequencer.Config{
		SequencerID:         cfg.Sequencer.SequencerID,
		MaxTxsPerBlock:      cfg.Sequencer.MaxTxsPerBlock,
		MaxGasPerBlock:      cfg.Sequencer.MaxGasPerBlock,
		MaxPendingTxs:       cfg.Sequencer.PoolMaxTxs,
		BatchCommitInterval: cfg.Sequencer.BatchCommitInterval,
	}, bp)

	var coord *coordinator.Coordinator
	if mode == ModeSequencer {
		var settlementClient settlement.Client
		if cfg.Coordinator.SettlementURL != "" {
			settlementClient = settlement.NewHTTPClient(
				cfg.Coordinator.SettlementURL,
				cfg.Coordinator.SettlementTimeout.Duration,
			)
		}
		coord, err = coordinator.NewCoordinator(coordinator.Config{
			BlockInterval:     cfg.Sequencer.BlockInterval.Duration,
			FinalizeInterval:  cfg.Coordinator.FinalizeInterval.Duration,
			SettlementTimeout: cfg.Coordinator.SettlementTimeout.Duration,
		}, seq, bp, settlementClient, historyDB)
		if err != nil {
			return nil, common.Wrap(err)
		}
	}

	var nodeAPI *NodeAPI
	if cfg.API.Address != "" {
		if cfg.Debug.GinDebugMode {
			gin.SetMode(gin.DebugMode)
		} else {
			gin.SetMode(gin.ReleaseMode)
		}
		server := gin.Default()
		server.Use(cors.Default())
		var seqnetCfg *api.SequencerNetworkConfig
		if cfg.SequencerNetwork.Enabled {
			ethPrivKey, err := ethCrypto.HexToECDSA(cfg.SequencerNetwork.EthPrivKey)
			if err != nil {
				return nil, common.Wrap(
					fmt.Errorf("invalid SequencerNetwork.EthPrivKey: %w", err))
			}
			bootstrapPeers := make([]multiaddr.Multiaddr,
				len(cfg.SequencerNetwork.BootstrapPeers))
			for i, addr := range cfg.SequencerNetwork.BootstrapPeers {
				bootstrapPeers[i], err = multiaddr.NewMultiaddr(addr)
				if err != nil {
					return nil, common.Wrap(fmt.Errorf(
						"invalid SequencerNetwork.BootstrapPeers: %w", err))
				}
			}
			seqnetCfg = &api.SequencerNetworkConfig{
				BootstrapPeers:        bootstrapPeers,
				EthPrivKey:            ethPrivKey,
				ListenAddr:            cfg.SequencerNetwork.ListenAddr,
				FindMorePeersInterval: cfg.SequencerNetwork.FindMorePeersInterval.Duration,
			}
		}
		nodeAPI, err = NewNodeAPI(
			cfg.API.Address,
			cfg.API.ReadTimeout.Duration,
			cfg.API.WriteTimeout.Duration,
			api.Config{
				Version:                version,
				SequencerEndpoints:     mode == ModeSequencer,
				ExplorerEndpoints:      cfg.API.Explorer,
				Server:                 server,
				Sequencer:              seq,
				BatchProcessor:         bp,
				HistoryDB:              historyDB,
				Coordinator:            coord,
				SequencerNetworkConfig: seqnetCfg,
			},
		)
		if err != nil {
			return nil, common.Wrap(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		nodeAPI:      nodeAPI,
		coord:        coord,
		seq:          seq,
		bp:           bp,
		cfg:          cfg,
		mode:         mode,
		sqlConnRead:  sqlConnRead,
		sqlConnWrite: sqlConnWrite,
		historyDB:    historyDB,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// NodeAPI holds the node http API
type NodeAPI struct { //nolint:golint
	api          *api.API
	engine       *gin.Engine
	addr         string
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewNodeAPI creates a new NodeAPI (which internally calls api.NewAPI)
func NewNodeAPI(addr string, readTimeout, writeTimeout time.Duration,
	apiConfig api.Config) (*NodeAPI, error) {
	_api, err := api.NewAPI(apiConfig)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return &NodeAPI{
		api:          _api,
		engine:       apiConfig.Server,
		addr:         addr,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}, nil
}

// Run starts the http server of the NodeAPI.  To stop it, pass a context with
// cancellation.
func (a *NodeAPI) Run(ctx context.Context) error {
	server := &http.Server{
		Handler:        a.engine,
		ReadTimeout:    a.readTimeout,
		WriteTimeout:   a.writeTimeout,
		MaxHeaderBytes: 1 << 20,
	}
	listener, err := net.Listen("tcp", a.addr)
	if err != nil {
		return common.Wrap(err)
	}
	log.Infof("NodeAPI is ready at %v", a.addr)
	go func() {
		if err := server.Serve(listener); err != nil &&
			common.Unwrap(err) != http.ErrServerClosed {
			log.Fatalf("Listen: %s\n", err)
		}
	}()

	<-ctx.Done()
	log.Info("Stopping NodeAPI...")
	ctxTimeout, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxTimeout); err != nil {
		return common.Wrap(err)
	}
	log.Info("NodeAPI done")
	return nil
}

// Start the node
func (n *Node) Start() {
	log.Infow("Starting node...", "mode", n.mode)
	if err := n.seq.Start(); err != nil {
		log.Fatalw("Sequencer.Start", "err", err)
	}
	if n.coord != nil {
		n.coord.Start()
	}
	if n.nodeAPI != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.nodeAPI.Run(n.ctx); err != nil {
				if n.ctx.Err() != nil {
					return
				}
				log.Fatalw("NodeAPI.Run", "err", err)
			}
		}()
	}
}

// Stop the node
func (n *Node) Stop() {
	log.Infow("Stopping node...")
	n.cancel()
	n.wg.Wait()
	if n.coord != nil {
		n.coord.Stop()
	}
	if n.nodeAPI != nil {
		n.nodeAPI.api.StopSequencerNetwork()
	}
	if err := n.seq.Stop(); err != nil {
		log.Warnw("Sequencer.Stop", "err", err)
	}
	// Close SQL connections
	if n.sqlConnRead != nil && n.sqlConnRead != n.sqlConnWrite {
		if err := n.sqlConnRead.Close(); err != nil {
			log.Errorw("sqlConnRead.Close", "err", err)
		}
	}
	if n.sqlConnWrite != nil {
		if err := n.sqlConnWrite.Close(); err != nil {
			log.Errorw("sqlConnWrite.Close", "err", err)
		}
	}
}
