package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	Storage      StorageConfig
	Search       SearchConfig
	Inference    InferenceConfig
	Pipeline     PipelineConfig
	PubSub       PubSubConfig
	Upload       UploadConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LUMINA_APP_ENV" required:"true"`
	Port         string `envconfig:"LUMINA_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LUMINA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LUMINA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LUMINA_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"LUMINA_DB_DSN"`
	Driver string `envconfig:"LUMINA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LUMINA_DB_HOST"`
	LegacyPort     int    `envconfig:"LUMINA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LUMINA_DB_USER"`
	LegacyPassword string `envconfig:"LUMINA_DB_PASSWORD"`
	LegacyName     string `envconfig:"LUMINA_DB_NAME"`
	LegacySSLMode  string `envconfig:"LUMINA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LUMINA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LUMINA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LUMINA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LUMINA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LUMINA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LUMINA_REDIS_ADDR"`
	Password     string        `envconfig:"LUMINA_REDIS_PASSWORD"`
	DB           int           `envconfig:"LUMINA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LUMINA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LUMINA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LUMINA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LUMINA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LUMINA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"LUMINA_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"LUMINA_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"LUMINA_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"LUMINA_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"LUMINA_AUTO_MIGRATE" default:"false"`
	UsePushJobs bool `envconfig:"LUMINA_USE_PUSH_JOBS" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"LUMINA_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"LUMINA_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"LUMINA_GOOGLE_APPLICATION_CREDENTIALS"`
}

type StorageConfig struct {
	BucketName   string `envconfig:"LUMINA_STORAGE_BUCKET_NAME" required:"true"`
	ObjectPrefix string `envconfig:"LUMINA_STORAGE_OBJECT_PREFIX" default:"images/"`
}

type SearchConfig struct {
	Endpoint      string        `envconfig:"LUMINA_SEARCH_ENDPOINT" required:"true"`
	IndexName     string        `envconfig:"LUMINA_SEARCH_INDEX_NAME" default:"lumina-images"`
	Username      string        `envconfig:"LUMINA_SEARCH_USERNAME"`
	Password      string        `envconfig:"LUMINA_SEARCH_PASSWORD"`
	VectorDim     int           `envconfig:"LUMINA_SEARCH_VECTOR_DIMENSION" default:"1024"`
	Timeout       time.Duration `envconfig:"LUMINA_SEARCH_TIMEOUT" default:"30s"`
	PublicBaseURL string        `envconfig:"LUMINA_SEARCH_PUBLIC_BASE_URL"`
}

type InferenceConfig struct {
	Endpoint string        `envconfig:"LUMINA_INFERENCE_ENDPOINT" required:"true"`
	APIKey   string        `envconfig:"LUMINA_INFERENCE_API_KEY"`
	ModelID  string        `envconfig:"LUMINA_INFERENCE_MODEL_ID" default:"vision-descriptor-v1"`
	Timeout  time.Duration `envconfig:"LUMINA_INFERENCE_TIMEOUT" default:"60s"`
	PageSize int           `envconfig:"LUMINA_INFERENCE_RESULT_PAGE_SIZE" default:"100"`
}

type PipelineConfig struct {
	MaxBatchSize      int           `envconfig:"LUMINA_PIPELINE_MAX_BATCH_SIZE" default:"500"`
	MinBatchSize      int           `envconfig:"LUMINA_PIPELINE_MIN_BATCH_SIZE" default:"100"`
	BatchWindow       time.Duration `envconfig:"LUMINA_PIPELINE_BATCH_WINDOW" default:"30s"`
	SweepInterval     time.Duration `envconfig:"LUMINA_PIPELINE_SWEEP_INTERVAL" default:"30s"`
	PollInterval      time.Duration `envconfig:"LUMINA_PIPELINE_POLL_INTERVAL" default:"1m"`
	PollTimeout       time.Duration `envconfig:"LUMINA_PIPELINE_POLL_TIMEOUT" default:"30s"`
	SubmitRetryBudget int           `envconfig:"LUMINA_PIPELINE_SUBMIT_RETRY_BUDGET" default:"3"`
	IndexRetryBudget  int           `envconfig:"LUMINA_PIPELINE_INDEX_RETRY_BUDGET" default:"5"`
	MaxJobAge         time.Duration `envconfig:"LUMINA_PIPELINE_MAX_JOB_AGE" default:"24h"`
	PollWorkers       int           `envconfig:"LUMINA_PIPELINE_POLL_WORKERS" default:"4"`
}

type PubSubConfig struct {
	JobEventsSubscription string `envconfig:"LUMINA_PUBSUB_JOB_EVENTS_SUBSCRIPTION"`
}

type UploadConfig struct {
	MaxUploadMB int `envconfig:"LUMINA_MAX_UPLOAD_MB" default:"20"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
