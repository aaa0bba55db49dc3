package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	// MaxBatchSize is the most requests sent in one JSON-RPC round trip;
	// larger bodies are rejected by bitcoind with HTTP 413.
	MaxBatchSize = 500

	defaultStayBehind     = 100
	defaultInFlightBlocks = 64
	defaultPollInterval   = 10 * time.Second
	defaultRetryDelay     = 5 * time.Second
	defaultFetchWorkers   = 4
	// the genesis coinbase cannot be fetched by txid
	defaultStartHeight = 1
)

// Config holds the configuration settings for the application.
type Config struct {
	Server   *ServerConfig     `yaml:"server"`
	LogLevel string            `yaml:"log_level"`
	DB       *DBConfig         `yaml:"db"`
	RPC      *BitcoinRPCConfig `yaml:"rpc"`
	Indexer  *IndexerConfig    `yaml:"indexer"`
}

// ServerConfig holds the configuration settings for the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DBConfig selects the cosmos-db backend (goleveldb, pebbledb, rocksdb, memdb).
type DBConfig struct {
	Name   string `yaml:"name"`
	Dir    string `yaml:"dir"`
	DBType string `yaml:"db_type"`
}

// BitcoinRPCConfig holds the configuration settings for Bitcoin JSON-RPC.
type BitcoinRPCConfig struct {
	URL          string `yaml:"url"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Network      string `yaml:"network"`
	MaxBatchSize int    `yaml:"max_batch_size"` //单次批量请求最大条数
	FetchWorkers int    `yaml:"fetch_workers"`  //并发批量请求数
	MaxRPS       int    `yaml:"max_rps"`        //每秒请求上限 0为不限制
}

type IndexerConfig struct {
	StayBehind     int64         `yaml:"stay_behind"`      //距离链顶的安全块数
	StartHeight    int64         `yaml:"start_height"`     //首个导入高度
	InFlightBlocks int           `yaml:"in_flight_blocks"` //每个阶段缓冲的块数
	PollInterval   time.Duration `yaml:"poll_interval"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(configPath string) (*Config, error) {
	// seeded so keys left out of a present section keep their defaults
	config := &Config{Indexer: defaultIndexerConfig()}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, err
	}

	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func defaultIndexerConfig() *IndexerConfig {
	return &IndexerConfig{StayBehind: defaultStayBehind, StartHeight: defaultStartHeight}
}

func (c *Config) setDefaults() {
	if c.Server == nil {
		c.Server = &ServerConfig{Host: "127.0.0.1", Port: 3000}
	}
	if c.DB == nil {
		c.DB = &DBConfig{}
	}
	if c.DB.Name == "" {
		c.DB.Name = "cluster"
	}
	if c.DB.DBType == "" {
		c.DB.DBType = "goleveldb"
	}
	if c.RPC == nil {
		c.RPC = &BitcoinRPCConfig{}
	}
	if c.RPC.MaxBatchSize <= 0 {
		c.RPC.MaxBatchSize = MaxBatchSize
	}
	if c.RPC.FetchWorkers <= 0 {
		c.RPC.FetchWorkers = defaultFetchWorkers
	}
	if c.Indexer == nil {
		c.Indexer = defaultIndexerConfig()
	}
	if c.Indexer.InFlightBlocks <= 0 {
		c.Indexer.InFlightBlocks = defaultInFlightBlocks
	}
	if c.Indexer.PollInterval <= 0 {
		c.Indexer.PollInterval = defaultPollInterval
	}
	if c.Indexer.RetryDelay <= 0 {
		c.Indexer.RetryDelay = defaultRetryDelay
	}
}

func (c *Config) validate() error {
	if c.RPC.MaxBatchSize > MaxBatchSize {
		return fmt.Errorf("rpc.max_batch_size %d exceeds %d", c.RPC.MaxBatchSize, MaxBatchSize)
	}
	if c.Indexer.StayBehind < 0 {
		return fmt.Errorf("indexer.stay_behind must not be negative")
	}
	if c.Indexer.StartHeight < defaultStartHeight {
		return fmt.Errorf("indexer.start_height must be at least %d", defaultStartHeight)
	}
	return nil
}
