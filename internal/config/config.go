package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/senseyeio/duration"
)

const (
	DriverMemory = "memory"
	DriverSqlite = "sqlite"
)

type Config struct {
	Name    string  `yaml:"name" json:"name" env:"NAME" env-default:"zenpvm"` // used for OTEL as an application identifier
	Server  Server  `yaml:"server" json:"server"`                               // configuration of the public REST server
	Tracing Tracing `yaml:"tracing" json:"tracing"`
	Engine  Engine  `yaml:"engine" json:"engine"`
	History History `yaml:"history" json:"history"`
}

type Server struct {
	Context        string   `yaml:"context" json:"context" env:"REST_API_CONTEXT" env-default:"/"`
	Addr           string   `yaml:"addr" json:"addr" env:"REST_API_ADDR" env-default:":8080"`
	AllowedOrigins []string `yaml:"allowedOrigins" json:"allowedOrigins" env:"REST_API_ALLOWED_ORIGINS" env-default:"*"`
}

type Tracing struct {
	Enabled  bool   `yaml:"enabled" json:"enabled" env:"TRACING_ENABLED"`
	Endpoint string `yaml:"endpoint" json:"endpoint" env:"TRACING_ENDPOINT" env-default:"localhost:4318"`
	Name     string `yaml:"name" json:"name" env:"TRACING_NAME" env-default:"zenpvm"`
	// Insecure sends spans over plain http unless the endpoint says https.
	Insecure Flag `yaml:"insecure" json:"insecure" env:"TRACING_INSECURE" env-default:"true"`
	// SampleRatio of root spans that are recorded, 1 records everything.
	SampleRatio float64 `yaml:"sampleRatio" json:"sampleRatio" env:"TRACING_SAMPLE_RATIO" env-default:"1"`
	// TransferHeaders are copied from requests into span attributes.
	TransferHeaders []string `yaml:"transferHeaders" json:"transferHeaders" env:"TRACING_TRANSFER_HEADERS"`
}

type Engine struct {
	History         EngineHistory   `yaml:"history" json:"history"`
	Retry           Retry           `yaml:"retry" json:"retry"`
	Persistence     Persistence     `yaml:"persistence" json:"persistence"`
	DefinitionCache DefinitionCache `yaml:"definitionCache" json:"definitionCache"`
	Script          Script          `yaml:"script" json:"script"`
	NodeID          int64           `yaml:"nodeId" json:"nodeId" env:"ENGINE_NODE_ID"`
}

// Flag is a boolean kept as text. An explicit false in the file is not
// replaced by the default.
type Flag string

func (f Flag) Bool() bool {
	b, _ := strconv.ParseBool(string(f))
	return b
}

// ISODuration is an ISO-8601 duration such as P30D.
type ISODuration string

// After returns the time span the duration covers when it starts at from.
// Calendar units depend on from.
func (d ISODuration) After(from time.Time) (time.Duration, error) {
	parsed, err := duration.ParseISO8601(string(d))
	if err != nil {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", d, err)
	}
	return parsed.Shift(from).Sub(from), nil
}

type EngineHistory struct {
	Enabled         Flag          `yaml:"enabled" json:"enabled" env:"ENGINE_HISTORY_ENABLED" env-default:"true"`
	TTL             ISODuration   `yaml:"ttl" json:"ttl" env:"ENGINE_HISTORY_TTL" env-default:"P30D"`
	CleanupInterval time.Duration `yaml:"cleanupInterval" json:"cleanupInterval" env:"ENGINE_HISTORY_CLEANUP_INTERVAL" env-default:"1h"`
}

type Retry struct {
	MaxAttempts    int           `yaml:"maxAttempts" json:"maxAttempts" env:"ENGINE_RETRY_MAX_ATTEMPTS" env-default:"3"`
	InitialBackoff time.Duration `yaml:"initialBackoff" json:"initialBackoff" env:"ENGINE_RETRY_INITIAL_BACKOFF" env-default:"10ms"`
	MaxBackoff     time.Duration `yaml:"maxBackoff" json:"maxBackoff" env:"ENGINE_RETRY_MAX_BACKOFF" env-default:"500ms"`
	Multiplier     float64       `yaml:"multiplier" json:"multiplier" env:"ENGINE_RETRY_MULTIPLIER" env-default:"2"`
}

type Persistence struct {
	Driver string `yaml:"driver" json:"driver" env:"ENGINE_PERSISTENCE_DRIVER" env-default:"sqlite"`
	DSN    string `yaml:"dsn" json:"dsn" env:"ENGINE_PERSISTENCE_DSN" env-default:"zenpvm.db"`
}

type DefinitionCache struct {
	Size int           `yaml:"size" json:"size" env:"ENGINE_DEFINITION_CACHE_SIZE" env-default:"1000"`
	TTL  time.Duration `yaml:"ttl" json:"ttl" env:"ENGINE_DEFINITION_CACHE_TTL" env-default:"1h"`
}

type Script struct {
	MinVmPoolSize int `yaml:"minVmPoolSize" json:"minVmPoolSize" env:"ENGINE_SCRIPT_MIN_VM_POOL_SIZE" env-default:"1"`
	MaxVmPoolSize int `yaml:"maxVmPoolSize" json:"maxVmPoolSize" env:"ENGINE_SCRIPT_MAX_VM_POOL_SIZE" env-default:"4"`
}

type History struct {
	Redis Redis `yaml:"redis" json:"redis"`
}

// Redis configures the export of history events to a Redis stream.
type Redis struct {
	Enabled  bool   `yaml:"enabled" json:"enabled" env:"HISTORY_REDIS_ENABLED"`
	Addr     string `yaml:"addr" json:"addr" env:"HISTORY_REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" json:"password" env:"HISTORY_REDIS_PASSWORD"`
	DB       int    `yaml:"db" json:"db" env:"HISTORY_REDIS_DB"`
	Stream   string `yaml:"stream" json:"stream" env:"HISTORY_REDIS_STREAM" env-default:"zenpvm:history"`
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errJoin error
	if _, err := strconv.ParseBool(string(c.Engine.History.Enabled)); err != nil {
		errJoin = errors.Join(errJoin, fmt.Errorf("engine.history.enabled: %w", err))
	}
	if _, err := c.Engine.History.TTL.After(time.Now()); err != nil {
		errJoin = errors.Join(errJoin, fmt.Errorf("engine.history.ttl: %w", err))
	}
	switch c.Engine.Persistence.Driver {
	case DriverMemory, DriverSqlite:
	default:
		errJoin = errors.Join(errJoin, fmt.Errorf("engine.persistence.driver: unknown driver %q", c.Engine.Persistence.Driver))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errJoin = errors.Join(errJoin, fmt.Errorf("tracing.sampleRatio must be between 0 and 1, got %v", c.Tracing.SampleRatio))
	}
	if c.Engine.Retry.MaxAttempts < 1 {
		errJoin = errors.Join(errJoin, errors.New("engine.retry.maxAttempts must be at least 1"))
	}
	if c.Engine.Script.MinVmPoolSize > c.Engine.Script.MaxVmPoolSize {
		errJoin = errors.Join(errJoin, errors.New("engine.script.minVmPoolSize is greater than maxVmPoolSize"))
	}
	return errJoin
}

// Load reads fileName, falling back to the environment when the file does
// not exist.
func Load(fileName string) (Config, error) {
	c := Config{}
	var err error
	if _, perr := os.Stat(fileName); errors.Is(perr, os.ErrNotExist) {
		err = cleanenv.ReadEnv(&c)
	} else {
		err = cleanenv.ReadConfig(fileName, &c)
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// InitConfig reads CONFIG_FILE or ./conf.yaml and panics on invalid
// configuration.
func InitConfig() Config {
	fileName := os.Getenv("CONFIG_FILE")
	if fileName == "" {
		wd, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		fileName = fmt.Sprintf("%s/conf.yaml", wd)
	}
	if _, err := os.Stat(fileName); errors.Is(err, os.ErrNotExist) {
		fmt.Printf("Configuration file %s not found. Reading config from ENV.\n", fileName)
	}
	c, err := Load(fileName)
	if err != nil {
		fmt.Printf("Error occurred while reading the configuration: %s\n", err)
		panic(err)
	}
	return c
}
