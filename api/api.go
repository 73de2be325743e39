package api

import (
	"context"
	"crypto/ecdsa"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"dispute-rollup/api/sequencernetwork"
	"dispute-rollup/batchprocessor"
	"dispute-rollup/common"
	"dispute-rollup/coordinator"
	"dispute-rollup/database/historydb"
	"dispute-rollup/log"
	"dispute-rollup/metric"
	"dispute-rollup/sequencer"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator"
	"github.com/multiformats/go-multiaddr"
)

// API serves HTTP requests to allow external interaction with the rollup node
type API struct {
	s         *sequencer.Sequencer
	processor *batchprocessor.BatchProcessor
	historyDB *historydb.HistoryDB
	coord     *coordinator.Coordinator
	validate  *validator.Validate
	version   string

	seqnet       *sequencernetwork.SequencerNetwork
	seqnetCancel context.CancelFunc
}

// SequencerNetworkConfig is the configuration of the p2p transaction relay
type SequencerNetworkConfig struct {
	BootstrapPeers        []multiaddr.Multiaddr
	EthPrivKey            *ecdsa.PrivateKey
	ListenAddr            string
	FindMorePeersInterval time.Duration
}

// Config wraps the parameters needed to start the API
type Config struct {
	Version            string
	SequencerEndpoints bool
	ExplorerEndpoints  bool
	Server             *gin.Engine
	Sequencer          *sequencer.Sequencer
	BatchProcessor     *batchprocessor.BatchProcessor
	HistoryDB          *historydb.HistoryDB
	// Coordinator enables the batch lifecycle endpoints that the settlement
	// layer calls back into
	Coordinator            *coordinator.Coordinator
	SequencerNetworkConfig *SequencerNetworkConfig
}

// NewAPI sets the endpoints and the appropriate handlers, but doesn't start the server
func NewAPI(setup Config) (*API, error) {
	// Check input
	if setup.SequencerEndpoints && setup.Sequencer == nil {
		return nil, common.Wrap(errors.New(
			"cannot serve sequencer endpoints without a Sequencer"))
	}
	if setup.ExplorerEndpoints &&
		(setup.Sequencer == nil || setup.BatchProcessor == nil) {
		return nil, common.Wrap(errors.New(
			"cannot serve explorer endpoints without the sequencer core"))
	}
	if setup.Coordinator != nil && setup.BatchProcessor == nil {
		return nil, common.Wrap(errors.New(
			"cannot serve batch lifecycle endpoints without the BatchProcessor"))
	}
	if setup.SequencerNetworkConfig != nil && setup.Sequencer == nil {
		return nil, common.Wrap(errors.New(
			"cannot relay pool transactions without a Sequencer"))
	}

	a := &API{
		s:         setup.Sequencer,
		processor: setup.BatchProcessor,
		historyDB: setup.HistoryDB,
		coord:     setup.Coordinator,
		validate:  validator.New(),
		version:   setup.Version,
	}

	// Setup sequencer network (libp2p interface)
	if setup.SequencerNetworkConfig != nil {
		if setup.SequencerNetworkConfig.EthPrivKey == nil {
			return nil, common.Wrap(errors.New(
				"EthPrivKey is required to setup the sequencers network"))
		}
		seqnet, err := sequencernetwork.NewSequencerNetwork(
			setup.SequencerNetworkConfig.EthPrivKey,
			setup.SequencerNetworkConfig.BootstrapPeers,
			setup.SequencerNetworkConfig.ListenAddr,
			a.seqnetPoolTxHandler,
		)
		if err != nil {
			return nil, common.Wrap(err)
		}
		a.seqnet = &seqnet
		ctx, cancel := context.WithCancel(context.Background())
		a.seqnetCancel = cancel
		go a.findMorePeersLoop(ctx,
			setup.SequencerNetworkConfig.FindMorePeersInterval)
	}

	// Setup http interface
	middleware, err := metric.PrometheusMiddleware()
	if err != nil {
		return nil, common.Wrap(err)
	}
	setup.Server.Use(middleware)

	setup.Server.NoRoute(a.noRoute)

	v1 := setup.Server.Group("/v1")

	v1.GET("/health", a.getHealth)

	// Add sequencer endpoints
	if setup.SequencerEndpoints {
		// Transaction
		v1.POST("/transactions-pool", a.postPoolTx)
		// Disputes
		v1.POST("/disputes", a.postDispute)
		v1.POST("/resolutions", a.postResolution)
	}

	// Batch lifecycle, for the settlement layer to call back into
	if setup.Coordinator != nil {
		v1.POST("/batches/:batchNum/challenge", a.postChallenge)
		v1.POST("/batches/:batchNum/reject", a.postReject)
	}

	// Add explorer endpoints
	if setup.ExplorerEndpoints {
		// Transaction
		v1.GET("/transactions-pool", a.getPoolTxs)
		v1.GET("/transactions-pool/:id", a.getPoolTx)
		// Batches
		v1.GET("/batches", a.getBatches)
		v1.GET("/batches/:batchNum", a.getBatch)
		v1.GET("/batches/:batchNum/merkle-proof/:disputeNum", a.getMerkleProof)
		// Disputes
		v1.GET("/disputes/:disputeNum", a.getDispute)
		// State
		v1.GET("/state", a.getState)
		// Archive, only when the node runs with a history mirror
		if setup.HistoryDB != nil {
			v1.GET("/blocks", a.getBlocks)
			v1.GET("/blocks/:blockNum", a.getBlock)
			v1.GET("/transactions-history/:id", a.getHistoryTx)
			v1.GET("/disputes-history/:disputeNum", a.getHistoryDispute)
		}
	}

	return a, nil
}

// StopSequencerNetwork closes the p2p relay and its discovery loop.  It is a
// no-op when the network was never configured.
func (a *API) StopSequencerNetwork() {
	if a.seqnet == nil {
		return
	}
	a.seqnetCancel()
	if err := a.seqnet.Close(); err != nil {
		log.Warnw("SequencerNetwork.Close", "err", err)
	}
}

func (a *API) findMorePeersLoop(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			log.Info("API sequencer network discovery loop done")
			return
		case <-time.After(interval):
			if err := a.seqnet.FindMorePeers(); err != nil {
				log.Warnw("SequencerNetwork.FindMorePeers", "err", err)
			}
		}
	}
}

// seqnetPoolTxHandler pools transactions relayed by other sequencers.
// Rejections are expected here (duplicates arrive whenever a peer
// republishes), so they are not surfaced as relay errors.
func (a *API) seqnetPoolTxHandler(tx common.Tx) error {
	a.s.SubmitTransaction(&tx)
	return nil
}

// relayTx publishes an accepted transaction to the sequencers network so
// standby pools warm up before the next leader change
func (a *API) relayTx(tx *common.Tx) {
	if a.seqnet == nil {
		return
	}
	if err := a.seqnet.PublishTx(*tx); err != nil {
		log.Warnw("SequencerNetwork.PublishTx", "err", err, "txID", tx.TxID)
	}
}

func (a *API) noRoute(c *gin.Context) {
	c.JSON(http.StatusNotFound, errorMsg{Message: "404 page not found"})
}

type health struct {
	Status         string          `json:"status"`
	Version        string          `json:"version"`
	SequencerState sequencer.State `json:"sequencerState,omitempty"`
}

func (a *API) getHealth(c *gin.Context) {
	status := health{
		Status:  "UP",
		Version: a.version,
	}
	if a.s != nil {
		status.SequencerState = a.s.State()
	}
	c.JSON(http.StatusOK, status)
}

type errorMsg struct {
	Message string `json:"message"`
}

func retBadReq(err error, c *gin.Context) {
	log.Warnw("HTTP API bad request", "err", err)
	c.JSON(http.StatusBadRequest, errorMsg{Message: err.Error()})
}

// retErr picks the response status from the unwrapped cause: lookups that
// found nothing map to 404, a lifecycle transition from the wrong status to
// 409, an exhausted connection semaphore to 503 and anything else to 500
func retErr(err error, c *gin.Context) {
	log.Warnw("HTTP API request error", "err", err)
	errMsg := common.Unwrap(err).Error()
	switch common.Unwrap(err) {
	case sql.ErrNoRows, common.ErrBatchNotFound, common.ErrDisputeNotFound,
		common.ErrTxNotFound:
		c.JSON(http.StatusNotFound, errorMsg{Message: errMsg})
	case common.ErrInvalidBatchStatus:
		c.JSON(http.StatusConflict, errorMsg{Message: errMsg})
	case context.DeadlineExceeded:
		c.JSON(http.StatusServiceUnavailable, errorMsg{Message: errMsg})
	default:
		c.JSON(http.StatusInternalServerError, errorMsg{Message: errMsg})
	}
}
