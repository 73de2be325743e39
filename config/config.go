package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dispute-rollup/common"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env"
	"github.com/go-playground/validator"
)

// Duration is a wrapper type that parses time duration from text
type Duration struct {
	time.Duration `validate:"required"`
}

// UnmarshalText unmarshalls time duration from text
func (d *Duration) UnmarshalText(data []byte) error {
	duration, err := time.ParseDuration(string(data))
	if err != nil {
		return common.Wrap(err)
	}
	d.Duration = duration
	return nil
}

// DefaultValues is the default configuration of the node.  Every value can
// be overridden by the configuration file and then by environment variables.
const DefaultValues = `
[Log]
Level = "info"
Out = ["stdout"]

[API]
Address = "0.0.0.0:8086"
Explorer = true
ReadTimeout = "30s"
WriteTimeout = "30s"
MaxSQLConnections = 100
SQLConnectionTimeout = "2s"

[Sequencer]
SequencerID = "sequencer-1"
BlockInterval = "100ms"
MaxTxsPerBlock = 100
MaxGasPerBlock = 30000000
BatchCommitInterval = 10
PoolMaxTxs = 100000

[BatchProcessor]
MinBatchSize = 10
MaxBatchSize = 1000
BatchInterval = "5m"
ChallengePeriod = "168h"

[Coordinator]
FinalizeInterval = "1m"
SettlementURL = ""
SettlementTimeout = "10s"

[PostgreSQL]
PortWrite = 5432
HostWrite = ""
UserWrite = "dispute"
PasswordWrite = "dispute"
NameWrite = "dispute"

[SequencerNetwork]
Enabled = false
ListenAddr = "/ip4/0.0.0.0/tcp/3598"
FindMorePeersInterval = "2m"

[Debug]
GinDebugMode = false
`

// Node is the configuration of the dispute rollup node
type Node struct {
	Log struct {
		Level string   `validate:"required" env:"DRNODE_LOG_LEVEL"`
		Out   []string `validate:"required" env:"DRNODE_LOG_OUT" envSeparator:","`
	} `validate:"required"`
	API struct {
		// Address where the API will listen if set
		Address string `env:"DRNODE_API_ADDRESS"`
		// Explorer enables the read only query endpoints
		Explorer     bool     `env:"DRNODE_API_EXPLORER"`
		ReadTimeout  Duration `validate:"required"`
		WriteTimeout Duration `validate:"required"`
		// MaxSQLConnections is the maximum amount of API requests that
		// can use the archive database concurrently
		MaxSQLConnections    int      `validate:"required" env:"DRNODE_API_MAXSQLCONNECTIONS"`
		SQLConnectionTimeout Duration `validate:"required"`
	} `validate:"required"`
	Sequencer struct {
		// SequencerID is recorded in every produced StateTransition
		SequencerID string `validate:"required" env:"DRNODE_SEQUENCER_SEQUENCERID"`
		// BlockInterval is the cadence of block production
		BlockInterval  Duration `validate:"required"`
		MaxTxsPerBlock int      `validate:"required" env:"DRNODE_SEQUENCER_MAXTXSPERBLOCK"`
		MaxGasPerBlock uint64   `validate:"required" env:"DRNODE_SEQUENCER_MAXGASPERBLOCK"`
		// BatchCommitInterval is the number of produced blocks after
		// which the sequencer forces a batch commit
		BatchCommitInterval uint64 `validate:"required" env:"DRNODE_SEQUENCER_BATCHCOMMITINTERVAL"`
		// PoolMaxTxs bounds the transaction pool size
		PoolMaxTxs int `validate:"required" env:"DRNODE_SEQUENCER_POOLMAXTXS"`
	} `validate:"required"`
	BatchProcessor struct {
		MinBatchSize int `validate:"required" env:"DRNODE_BATCHPROCESSOR_MINBATCHSIZE"`
		MaxBatchSize int `validate:"required" env:"DRNODE_BATCHPROCESSOR_MAXBATCHSIZE"`
		// BatchInterval is the time trigger: a batch is created once
		// disputes have been pending for this long even if MinBatchSize
		// has not been reached
		BatchInterval Duration `validate:"required"`
		// ChallengePeriod is the window during which a committed batch
		// can be challenged before it may be finalized
		ChallengePeriod Duration `validate:"required"`
	} `validate:"required"`
	Coordinator struct {
		// FinalizeInterval is the cadence of the sweep that finalizes
		// committed batches whose challenge period has elapsed
		FinalizeInterval Duration `validate:"required"`
		// SettlementURL is the base URL of the upper layer settlement
		// service.  Empty disables settlement forwarding.
		SettlementURL     string   `env:"DRNODE_COORDINATOR_SETTLEMENTURL"`
		SettlementTimeout Duration `validate:"required"`
	} `validate:"required"`
	PostgreSQL struct {
		// Port of the PostgreSQL write server
		PortWrite int `env:"DRNODE_POSTGRESQL_PORTWRITE"`
		// Host of the PostgreSQL write server.  Empty disables the
		// archive database entirely.
		HostWrite     string `env:"DRNODE_POSTGRESQL_HOSTWRITE"`
		UserWrite     string `env:"DRNODE_POSTGRESQL_USERWRITE"`
		PasswordWrite string `env:"DRNODE_POSTGRESQL_PASSWORDWRITE"`
		NameWrite     string `env:"DRNODE_POSTGRESQL_NAMEWRITE"`
		// Read params are optional.  If unset, the write server is
		// used for reads as well.
		PortRead     int    `env:"DRNODE_POSTGRESQL_PORTREAD"`
		HostRead     string `env:"DRNODE_POSTGRESQL_HOSTREAD"`
		UserRead     string `env:"DRNODE_POSTGRESQL_USERREAD"`
		PasswordRead string `env:"DRNODE_POSTGRESQL_PASSWORDREAD"`
		NameRead     string `env:"DRNODE_POSTGRESQL_NAMEREAD"`
	}
	SequencerNetwork struct {
		// Enabled starts the p2p transaction relay
		Enabled bool `env:"DRNODE_SEQUENCERNETWORK_ENABLED"`
		// ListenAddr is the libp2p listen multiaddress
		ListenAddr string `env:"DRNODE_SEQUENCERNETWORK_LISTENADDR"`
		// EthPrivKey is the hex encoded secp256k1 private key that
		// identifies this node on the network
		EthPrivKey string `env:"DRNODE_SEQUENCERNETWORK_ETHPRIVKEY"`
		// BootstrapPeers are multiaddresses of known peers used to
		// join the DHT
		BootstrapPeers        []string `env:"DRNODE_SEQUENCERNETWORK_BOOTSTRAPPEERS" envSeparator:","`
		FindMorePeersInterval Duration
	}
	Debug struct {
		// GinDebugMode sets Gin-Gonic (the web framework) to run in
		// debug mode
		GinDebugMode bool `env:"DRNODE_DEBUG_GINDEBUGMODE"`
	}
}

func loadDefault(defaultValues string, cfg interface{}) error {
	if _, err := toml.Decode(defaultValues, cfg); err != nil {
		return err
	}
	return nil
}

func loadFile(path string, cfg interface{}) error {
	bs, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	cfgToml := string(bs)
	if _, err := toml.Decode(cfgToml, cfg); err != nil {
		return err
	}
	return nil
}

func loadEnv(cfg interface{}) error {
	if err := env.Parse(cfg); err != nil {
		return err
	}
	return nil
}

// LoadConfig loads the configuration in three layers: embedded defaults
// first, then the configuration file, then environment variables
func LoadConfig(filePath string, defaultValues string, cfg interface{}) error {
	// Get default configuration
	if err := loadDefault(defaultValues, cfg); err != nil {
		return fmt.Errorf("error loading default configuration: %w", err)
	}
	// Get file configuration
	var errLoadFile error
	if filePath != "" {
		errLoadFile = loadFile(filePath, cfg)
	}
	// Overwrite file configuration with the env configuration
	errLoadEnv := loadEnv(cfg)
	if errLoadFile != nil {
		return fmt.Errorf("error loading configuration file: %w", errLoadFile)
	}
	if errLoadEnv != nil {
		return fmt.Errorf("error loading environment variables: %w", errLoadEnv)
	}
	return nil
}

// LoadNode loads the node configuration from the default values, the toml
// file at path (if any) and the environment.  When sequencerMode is set, the
// sections that only a block producing node needs are validated as well.
func LoadNode(path string, sequencerMode bool) (*Node, error) {
	var cfg Node
	if err := LoadConfig(path, DefaultValues, &cfg); err != nil {
		return nil, common.Wrap(err)
	}
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, common.Wrap(fmt.Errorf("error validating configuration file: %w", err))
	}
	if sequencerMode {
		if err := validate.Struct(cfg.Sequencer); err != nil {
			return nil, common.Wrap(fmt.Errorf("error validating configuration file: %w", err))
		}
		if err := validate.Struct(cfg.Coordinator); err != nil {
			return nil, common.Wrap(fmt.Errorf("error validating configuration file: %w", err))
		}
	}
	return &cfg, nil
}
