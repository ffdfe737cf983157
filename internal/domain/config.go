package domain

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backends are used
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Pipeline settings
	Training   TrainingConfig   `json:"training"`
	Scoring    ScoringConfig    `json:"scoring"`
	Legitimacy LegitimacyConfig `json:"legitimacy"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`

	// AsyncWorker enables bus ingestion of transactions.
	AsyncWorker bool `json:"asyncWorker"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
	// MaxUploadBytes caps multipart history uploads.
	MaxUploadBytes int64 `json:"maxUploadBytes"`
	// AllowedOrigins restricts CORS; empty allows any origin.
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

// TrainingConfig holds model training settings.
type TrainingConfig struct {
	// DefaultDataPath is used when /train receives no upload.
	DefaultDataPath string `json:"defaultDataPath"`

	// DefaultUser is used when the request omits the user context.
	DefaultUser UserContext `json:"defaultUser"`

	TestFraction   float64 `json:"testFraction"`
	Seed           int64   `json:"seed"`
	Trees          int     `json:"trees"`
	MaxDepth       int     `json:"maxDepth"`
	MinSamplesLeaf int     `json:"minSamplesLeaf"`
	SMOTENeighbors int     `json:"smoteNeighbors"`

	// RestoreOnStart loads the latest stored artifacts at startup.
	RestoreOnStart bool `json:"restoreOnStart"`
}

// ScoringConfig holds decision settings.
type ScoringConfig struct {
	// Threshold above which a transaction is flagged.
	Threshold float64 `json:"threshold"`

	// IllegitimateFloor is the minimum probability for an unverified payee.
	IllegitimateFloor float64 `json:"illegitimateFloor"`

	WorkerCount int `json:"workerCount"`
}

// LegitimacyConfig holds registry and oracle settings.
type LegitimacyConfig struct {
	// FuzzyCutoff is the token-set ratio (0-100) at which a name matches.
	FuzzyCutoff int `json:"fuzzyCutoff"`

	// SeedFiles are company lists loaded when the registry is empty.
	SeedFiles []CompanySource `json:"seedFiles"`

	OracleEnabled bool          `json:"oracleEnabled"`
	OracleURL     string        `json:"oracleUrl"`
	OracleAPIKey  string        `json:"-"`
	OracleModel   string        `json:"oracleModel"`
	OracleTimeout time.Duration `json:"oracleTimeout"`

	// NegativeTTL memoizes "not legitimate" verdicts. Zero disables.
	NegativeTTL time.Duration `json:"negativeTtl"`
}

// CompanySource describes one company list CSV.
type CompanySource struct {
	Path        string `json:"path"`
	NameColumn  string `json:"nameColumn"`
	AliasColumn string `json:"aliasColumn,omitempty"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-memory cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS or Kafka + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30,
			WriteTimeout:   120,
			MaxUploadBytes: 64 << 20,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			Namespace:    "kestrel",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Training: TrainingConfig{
			DefaultDataPath: "data/transactions.csv",
			DefaultUser:     UserContext{CreditScore: 650, Age: 35},
			TestFraction:    0.3,
			Seed:            42,
			Trees:           100,
			MaxDepth:        3,
			MinSamplesLeaf:  5,
			SMOTENeighbors:  5,
			RestoreOnStart:  true,
		},
		Scoring: ScoringConfig{
			Threshold:         0.4,
			IllegitimateFloor: 0.9,
			WorkerCount:       5,
		},
		Legitimacy: LegitimacyConfig{
			FuzzyCutoff: 80,
			SeedFiles: []CompanySource{
				{Path: "data/fort1000_companies.csv", NameColumn: "Company"},
				{Path: "data/inc5000_companies.csv", NameColumn: "name"},
				{Path: "data/company_database.csv", NameColumn: "Company Name", AliasColumn: "Alternative Name(s)"},
			},
			OracleURL:     "https://api.openai.com/v1/chat/completions",
			OracleModel:   "gpt-3.5-turbo",
			OracleTimeout: 10 * time.Second,
			NegativeTTL:   10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		Namespace:      "kestrel",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	cfg.AsyncWorker = true
	return cfg
}

// LoadConfig builds the configuration for the tier named by KESTREL_TIER and
// overlays environment variables. A .env file is read first when present.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if getEnv("KESTREL_TIER", "") == string(TierPro) {
		cfg = ProConfig()
	}

	cfg.Server.Host = getEnv("KESTREL_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("KESTREL_PORT", cfg.Server.Port)
	if origins := getEnv("KESTREL_CORS_ORIGINS", ""); origins != "" {
		cfg.Server.AllowedOrigins = strings.Split(origins, ",")
	}

	cfg.Repository.Driver = getEnv("KESTREL_DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = getEnv("KESTREL_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = getEnv("KESTREL_PG_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = getEnvInt("KESTREL_PG_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = getEnv("KESTREL_PG_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = getEnv("KESTREL_PG_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = getEnv("KESTREL_PG_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = getEnv("KESTREL_PG_SSLMODE", cfg.Repository.PostgresSSLMode)

	cfg.Cache.Type = getEnv("KESTREL_CACHE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = getEnv("KESTREL_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("KESTREL_REDIS_PASSWORD", cfg.Cache.RedisPassword)

	cfg.EventBus.Type = getEnv("KESTREL_BUS", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = getEnv("KESTREL_NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = getEnv("KESTREL_NATS_TOKEN", cfg.EventBus.NATSToken)
	if brokers := getEnv("KESTREL_KAFKA_BROKERS", ""); brokers != "" {
		cfg.EventBus.KafkaBrokers = strings.Split(brokers, ",")
	}
	cfg.EventBus.KafkaGroupID = getEnv("KESTREL_KAFKA_GROUP", "kestrel")

	cfg.Training.DefaultDataPath = getEnv("KESTREL_DATA_PATH", cfg.Training.DefaultDataPath)
	cfg.Training.DefaultUser.CreditScore = getEnvInt("KESTREL_DEFAULT_CREDIT_SCORE", cfg.Training.DefaultUser.CreditScore)
	cfg.Training.DefaultUser.Age = getEnvInt("KESTREL_DEFAULT_AGE", cfg.Training.DefaultUser.Age)

	cfg.Scoring.Threshold = getEnvFloat("KESTREL_THRESHOLD", cfg.Scoring.Threshold)

	cfg.Legitimacy.OracleAPIKey = getEnv("ORACLE_API_KEY", getEnv("OPENAI_API_KEY", ""))
	cfg.Legitimacy.OracleEnabled = cfg.Legitimacy.OracleAPIKey != ""
	cfg.Legitimacy.OracleURL = getEnv("ORACLE_URL", cfg.Legitimacy.OracleURL)
	cfg.Legitimacy.OracleModel = getEnv("ORACLE_MODEL", cfg.Legitimacy.OracleModel)

	if getEnv("KESTREL_ASYNC_WORKER", "") == "true" {
		cfg.AsyncWorker = true
	}
	if getEnv("KESTREL_DEBUG", "") == "true" {
		cfg.Logging.Level = "debug"
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
