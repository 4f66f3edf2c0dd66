package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"
)

type Config struct { // define a struct for usage with go-flags
	DataDir  string `long:"dir" description:"Data directory holding the database, log and config file, as an absolute path."`
	DBFile   string `long:"db" description:"Database file name inside the data directory."`
	Network  string `long:"network" description:"Bitcoin network: mainnet, testnet3, regtest or simnet."`
	LogLevel string `long:"loglevel" description:"Log level: debug, info, warn or error."`
	Verbose  bool   `short:"v" long:"verbose" description:"Log to stdout as well as the log file; otherwise only the log file is written."`

	OracleURL  string `long:"oracle" description:"Base URL of the oracle REST API."`
	OracleName string `long:"oraclename" description:"Name the oracle is logged under."`
	OracleKey  string `long:"oraclekey" description:"Hex x-only public key the oracle must sign with; fetched from the oracle when empty."`

	ProcessInterval   time.Duration `long:"process-interval" description:"How often inbound messages are drained."`
	SyncInterval      time.Duration `long:"sync-interval" description:"How often the wallet is synced."`
	CheckInterval     time.Duration `long:"check-interval" description:"How often contracts are checked against the chain and oracle."`
	ReconnectInterval time.Duration `long:"reconnect-interval" description:"How often known peers are redialed."`
	ReconnectRate     float64       `long:"reconnect-rate" description:"Peer dials per second."`
	QueueSize         int           `long:"queue" description:"Depth of the command queue."`

	MetricsAddr      string `long:"metrics" description:"Address to serve prometheus metrics on; empty disables."`
	MetricsNamespace string `long:"metrics-namespace" description:"Namespace of exported metrics."`

	ConfigFile string
}

var (
	DefaultHomeDirName       = filepath.Join(os.Getenv("HOME"), ".dlcd")
	DefaultConfigFilename    = "dlcd.conf"
	DefaultDBFilename        = "dlcd.db"
	DefaultLogFilename       = "dlcd.log"
	DefaultNetwork           = "regtest"
	DefaultLogLevel          = "info"
	DefaultOracleName        = "oracle"
	DefaultProcessInterval   = 5 * time.Second
	DefaultSyncInterval      = 10 * time.Second
	DefaultCheckInterval     = 30 * time.Second
	DefaultReconnectInterval = 60 * time.Second
	DefaultReconnectRate     = 1.0
	DefaultQueueSize         = 64
	DefaultMetricsPort       = "9108"
	DefaultMetricsNamespace  = "dlcd"
)

// Default returns a config with every option at its default.
func Default() *Config {
	return &Config{
		DataDir:           DefaultHomeDirName,
		DBFile:            DefaultDBFilename,
		Network:           DefaultNetwork,
		LogLevel:          DefaultLogLevel,
		OracleName:        DefaultOracleName,
		ProcessInterval:   DefaultProcessInterval,
		SyncInterval:      DefaultSyncInterval,
		CheckInterval:     DefaultCheckInterval,
		ReconnectInterval: DefaultReconnectInterval,
		ReconnectRate:     DefaultReconnectRate,
		QueueSize:         DefaultQueueSize,
		MetricsNamespace:  DefaultMetricsNamespace,
	}
}

// NewConfigParser returns a new command line flags parser.
func NewConfigParser(conf *Config, options flags.Options) *flags.Parser {
	parser := flags.NewParser(conf, options)
	return parser
}

var networks = map[string]*chaincfg.Params{
	"mainnet":  &chaincfg.MainNetParams,
	"testnet3": &chaincfg.TestNet3Params,
	"regtest":  &chaincfg.RegressionNetParams,
	"simnet":   &chaincfg.SimNetParams,
}

// Params returns the chain parameters of the configured network.
func (c *Config) Params() (*chaincfg.Params, error) {
	p, ok := networks[c.Network]
	if !ok {
		return nil, fmt.Errorf("unknown network %q", c.Network)
	}
	return p, nil
}

// DBPath is the bolt database file.
func (c *Config) DBPath() string { return filepath.Join(c.DataDir, c.DBFile) }

// LogFile is where logs are written.
func (c *Config) LogFile() string { return filepath.Join(c.DataDir, DefaultLogFilename) }

// Validate checks values that go-flags cannot.
func (c *Config) Validate() error {
	if _, err := c.Params(); err != nil {
		return err
	}
	if c.ProcessInterval <= 0 || c.SyncInterval <= 0 || c.CheckInterval <= 0 || c.ReconnectInterval <= 0 {
		return fmt.Errorf("intervals must be positive")
	}
	if c.ReconnectRate <= 0 {
		return fmt.Errorf("reconnect rate must be positive")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue size must be at least 1")
	}
	return nil
}
