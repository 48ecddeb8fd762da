package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// Environment variables that override names and endpoints from the file.
const (
	articlesTableEnv           = "ARTICLES_TABLE"
	personalizedTableEnv       = "PERSONALIZED_ARTICLES_TABLE"
	trackingTableEnv           = "TRACKING_TABLE"
	newsStagingBucketEnv       = "NEWS_STAGING_BUCKET"
	newsProcessedBucketEnv     = "NEWS_PROCESSED_BUCKET"
	trackingStagingBucketEnv   = "TRACKING_STAGING_BUCKET"
	trackingProcessedBucketEnv = "TRACKING_PROCESSED_BUCKET"
	trackingSubjectEnv         = "TRACKING_SUBJECT"
	natsURLEnv                 = "NATS_URL"
	redisURLEnv                = "REDIS_URL"
	portEnv                    = "PORT"
	backendPortEnv             = "BACKEND_PORT"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Config struct {
	Sources     Sources     `yaml:"sources"`
	Warehouse   Warehouse   `yaml:"warehouse"`
	Storage     Storage     `yaml:"storage"`
	Broker      Broker      `yaml:"broker"`
	Session     Session     `yaml:"session"`
	Retry       Retry       `yaml:"retry"`
	Recommender Recommender `yaml:"recommender"`
	Output      Output      `yaml:"output"`
	Server      Server      `yaml:"server"`
	Logging     Logging     `yaml:"logging"`
}

type Sources struct {
	Feeds   []Feed        `yaml:"feeds"`
	NewsAPI NewsAPIConfig `yaml:"newsapi"`
	Enrich  Enrich        `yaml:"enrich"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type NewsAPIConfig struct {
	Enabled           bool    `yaml:"enabled"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	BaseURL           string  `yaml:"base_url"`
	Domains           string  `yaml:"domains"`
	Language          string  `yaml:"language"`
	PageSize          int     `yaml:"page_size"`
	DaysBack          int     `yaml:"days_back"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type Enrich struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

type Warehouse struct {
	Path              string `yaml:"path"`
	ArticlesTable     string `yaml:"articles_table"`
	TrackingTable     string `yaml:"tracking_table"`
	PersonalizedTable string `yaml:"personalized_table"`
}

type Storage struct {
	// Backend is "filesystem" or "nats".
	Backend                 string `yaml:"backend"`
	Dir                     string `yaml:"dir"`
	NewsStagingBucket       string `yaml:"news_staging_bucket"`
	NewsProcessedBucket     string `yaml:"news_processed_bucket"`
	TrackingStagingBucket   string `yaml:"tracking_staging_bucket"`
	TrackingProcessedBucket string `yaml:"tracking_processed_bucket"`
}

type Broker struct {
	URL           string        `yaml:"url"`
	Stream        string        `yaml:"stream"`
	Subject       string        `yaml:"subject"`
	Consumer      string        `yaml:"consumer"`
	BatchSize     int           `yaml:"batch_size"`
	FetchWait     time.Duration `yaml:"fetch_wait"`
	PublishWait   time.Duration `yaml:"publish_wait"`
	AckWait       time.Duration `yaml:"ack_wait"`
	MaxDeliver    int           `yaml:"max_deliver"`
	ClientName    string        `yaml:"client_name"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

type Session struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

type Retry struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

type Recommender struct {
	// Embedder is "terms" or "ollama".
	Embedder          string  `yaml:"embedder"`
	OllamaURL         string  `yaml:"ollama_url"`
	EmbeddingModel    string  `yaml:"embedding_model"`
	DistanceThreshold float64 `yaml:"distance_threshold"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	BackendPort int    `yaml:"backend_port"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for newssite.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "newssite")
}

// DataDir returns the XDG data directory for newssite.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "newssite")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/newssite/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'newssite init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file, then applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Sources: Sources{
			NewsAPI: NewsAPIConfig{
				Enabled:           true,
				APIKeyEnv:         "NEWSAPI_KEY",
				BaseURL:           "https://newsapi.org",
				Language:          "en",
				PageSize:          100,
				DaysBack:          1,
				RequestsPerSecond: 1,
			},
			Enrich: Enrich{Timeout: 15 * time.Second},
		},
		Warehouse: Warehouse{
			ArticlesTable:     "articles",
			TrackingTable:     "tracking_events",
			PersonalizedTable: "personalized_articles",
		},
		Storage: Storage{
			Backend:                 "filesystem",
			NewsStagingBucket:       "news-staging",
			NewsProcessedBucket:     "news-processed",
			TrackingStagingBucket:   "tracking-staging",
			TrackingProcessedBucket: "tracking-processed",
		},
		Broker: Broker{
			URL:           "nats://127.0.0.1:4222",
			Stream:        "NEWS_TRACKING",
			Subject:       "news.tracking",
			Consumer:      "news-tracking-loader",
			BatchSize:     10,
			FetchWait:     10 * time.Second,
			PublishWait:   30 * time.Second,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			ClientName:    "newssite",
			ReconnectWait: 2 * time.Second,
		},
		Session: Session{TTL: 24 * time.Hour},
		Retry:   Retry{Attempts: 3, Delay: 10 * time.Second},
		Recommender: Recommender{
			Embedder:          "terms",
			OllamaURL:         "http://localhost:11434",
			EmbeddingModel:    "nomic-embed-text",
			DistanceThreshold: 1.2,
		},
		Server:  Server{Host: "0.0.0.0", Port: 8080, BackendPort: 8081},
		Logging: Logging{Level: "INFO", Format: "text"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides names and endpoints from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str(articlesTableEnv, &c.Warehouse.ArticlesTable)
	str(personalizedTableEnv, &c.Warehouse.PersonalizedTable)
	str(trackingTableEnv, &c.Warehouse.TrackingTable)
	str(newsStagingBucketEnv, &c.Storage.NewsStagingBucket)
	str(newsProcessedBucketEnv, &c.Storage.NewsProcessedBucket)
	str(trackingStagingBucketEnv, &c.Storage.TrackingStagingBucket)
	str(trackingProcessedBucketEnv, &c.Storage.TrackingProcessedBucket)
	str(trackingSubjectEnv, &c.Broker.Subject)
	str(natsURLEnv, &c.Broker.URL)
	str(redisURLEnv, &c.Session.RedisURL)
	num(portEnv, &c.Server.Port)
	num(backendPortEnv, &c.Server.BackendPort)
}

// Validate checks values that are used unescaped or as loop bounds.
func (c *Config) Validate() error {
	for _, name := range []string{c.Warehouse.ArticlesTable, c.Warehouse.TrackingTable, c.Warehouse.PersonalizedTable} {
		if !identifier.MatchString(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	if c.Broker.BatchSize <= 0 {
		return fmt.Errorf("broker.batch_size must be positive, got %d", c.Broker.BatchSize)
	}
	if c.Retry.Attempts <= 0 {
		return fmt.Errorf("retry.attempts must be positive, got %d", c.Retry.Attempts)
	}
	switch c.Storage.Backend {
	case "filesystem", "nats":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// WarehousePath returns the SQLite file backing the warehouse.
func (c *Config) WarehousePath() string {
	if c.Warehouse.Path != "" {
		return c.Warehouse.Path
	}
	return filepath.Join(c.GetDataDir(), "warehouse.db")
}

// StorageDir returns the root directory for the filesystem bucket backend.
func (c *Config) StorageDir() string {
	if c.Storage.Dir != "" {
		return c.Storage.Dir
	}
	return filepath.Join(c.GetDataDir(), "buckets")
}

// NewsAPIKey reads the NewsAPI key from the configured environment variable.
func (c *Config) NewsAPIKey() string {
	return os.Getenv(c.Sources.NewsAPI.APIKeyEnv)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
