package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Storage     StorageConfig
	RabbitMQ    RabbitMQConfig
	Worker      WorkerConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Tracing     TracingConfig
	Compression CompressionConfig
	Selection   SelectionConfig
	Albums      AlbumsConfig
	Library     LibraryConfig
}

type ServerConfig struct {
	Host string
	Port int
	Mode string
}

type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	SSLMode        string
	MaxConnections int
	MinConnections int
	Migrate        bool
}

// StorageConfig selects the blob driver holding encoded asset bytes.
type StorageConfig struct {
	Driver string
	MinIO  MinIOConfig
	S3     S3Config
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	SSL       bool
	Location  string
}

type S3Config struct {
	Bucket string
	Region string
	Prefix string
}

type RabbitMQConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Queue       string
	Exchange    string
	RoutingKey  string
	ConsumerTag string
}

type WorkerConfig struct {
	// LockRetryDelay is the wait between attempts to start a run while
	// another process holds the library
	LockRetryDelay time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Enabled  bool
	Endpoint string
}

type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	Insecure       bool
	SampleRatio    float64
}

// CompressionConfig holds the transform constants.
type CompressionConfig struct {
	MaxDimension   int
	Quality        float64
	SkipIfLarger   bool
	StripSensitive bool
}

// SelectionConfig holds the minimum-size slider bounds, in MB.
type SelectionConfig struct {
	DefaultMinimumMB float64
	MinimumMB        float64
	MaximumMB        float64
}

type AlbumsConfig struct {
	MarkerName       string
	CompressedPrefix string
	DefaultAlbum     string
}

// LibraryConfig controls how an undetermined authorization resolves on request.
type LibraryConfig struct {
	GrantOnRequest string
}

// ConnectionString generates the connection string for the PostgreSQL database
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// RabbitMQURL generates the connection string for RabbitMQ
func (c *RabbitMQConfig) RabbitMQURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/",
		c.User, c.Password, c.Host, c.Port)
}

// Load returns the application configuration from environment variables
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isMissingFile(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := unmarshalConfig(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Default returns the configuration built from defaults only.
func Default() *Config {
	setDefaults()
	var config Config
	_ = unmarshalConfig(&config)
	return &config
}

// Validate checks the values the pipeline depends on.
func (c *Config) Validate() error {
	if c.Compression.MaxDimension <= 0 {
		return fmt.Errorf("compression max dimension must be positive, got %d", c.Compression.MaxDimension)
	}
	if c.Compression.Quality <= 0 || c.Compression.Quality > 1 {
		return fmt.Errorf("compression quality must be in (0, 1], got %v", c.Compression.Quality)
	}
	if c.Selection.MinimumMB < 0 || c.Selection.MinimumMB > c.Selection.MaximumMB {
		return fmt.Errorf("selection size range [%v, %v] is invalid", c.Selection.MinimumMB, c.Selection.MaximumMB)
	}
	switch c.Storage.Driver {
	case "minio", "s3":
	default:
		return fmt.Errorf("unknown storage driver: %s", c.Storage.Driver)
	}
	return nil
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "ziply")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max.connections", 10)
	viper.SetDefault("database.min.connections", 2)
	viper.SetDefault("database.migrate", true)

	// Storage defaults
	viper.SetDefault("storage.driver", "minio")
	viper.SetDefault("minio.endpoint", "localhost:9000")
	viper.SetDefault("minio.access.key", "minioadmin")
	viper.SetDefault("minio.secret.key", "minioadmin")
	viper.SetDefault("minio.bucket", "photos")
	viper.SetDefault("minio.ssl", false)
	viper.SetDefault("minio.location", "us-east-1")
	viper.SetDefault("s3.bucket", "ziply-photos")
	viper.SetDefault("s3.region", "us-east-1")
	viper.SetDefault("s3.prefix", "assets")

	// RabbitMQ defaults
	viper.SetDefault("rabbitmq.host", "rabbitmq")
	viper.SetDefault("rabbitmq.port", 5672)
	viper.SetDefault("rabbitmq.user", "guest")
	viper.SetDefault("rabbitmq.password", "guest")
	viper.SetDefault("rabbitmq.queue", "compression_runs")
	viper.SetDefault("rabbitmq.exchange", "ziply")
	viper.SetDefault("rabbitmq.routing.key", "compression.run")
	viper.SetDefault("rabbitmq.consumer.tag", "ziply_worker")

	// Worker defaults
	viper.SetDefault("worker.lock.retry.delay", "5s")

	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")

	// Observability defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.endpoint", "/metrics")
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.service.name", "ziply")
	viper.SetDefault("tracing.service.version", "1.0.0")
	viper.SetDefault("tracing.environment", "development")
	viper.SetDefault("tracing.otlp.endpoint", "localhost:4317")
	viper.SetDefault("tracing.otlp.insecure", true)
	viper.SetDefault("tracing.sample.ratio", 1.0)

	// Compression defaults
	viper.SetDefault("compression.max.dimension", 1500)
	viper.SetDefault("compression.quality", 0.75)
	viper.SetDefault("compression.skip.if.larger", false)
	viper.SetDefault("compression.strip.sensitive", false)

	// Selection defaults
	viper.SetDefault("selection.default.minimum.mb", 2.5)
	viper.SetDefault("selection.minimum.mb", 0.1)
	viper.SetDefault("selection.maximum.mb", 5.0)

	// Album defaults
	viper.SetDefault("albums.marker.name", "Can Delete - Ziply")
	viper.SetDefault("albums.compressed.prefix", "Compressed - ")
	viper.SetDefault("albums.default.album", "Camera Roll")

	// Library defaults
	viper.SetDefault("library.grant.on.request", "authorized")
}

func unmarshalConfig(config *Config) error {
	// Server config
	config.Server.Host = viper.GetString("server.host")
	config.Server.Port = viper.GetInt("server.port")
	config.Server.Mode = viper.GetString("server.mode")

	// Database config
	config.Database.Host = viper.GetString("database.host")
	config.Database.Port = viper.GetInt("database.port")
	config.Database.User = viper.GetString("database.user")
	config.Database.Password = viper.GetString("database.password")
	config.Database.DBName = viper.GetString("database.dbname")
	config.Database.SSLMode = viper.GetString("database.sslmode")
	config.Database.MaxConnections = viper.GetInt("database.max.connections")
	config.Database.MinConnections = viper.GetInt("database.min.connections")
	config.Database.Migrate = viper.GetBool("database.migrate")

	// Storage config
	config.Storage.Driver = strings.ToLower(viper.GetString("storage.driver"))
	config.Storage.MinIO.Endpoint = viper.GetString("minio.endpoint")
	config.Storage.MinIO.AccessKey = viper.GetString("minio.access.key")
	config.Storage.MinIO.SecretKey = viper.GetString("minio.secret.key")
	config.Storage.MinIO.Bucket = viper.GetString("minio.bucket")
	config.Storage.MinIO.SSL = viper.GetBool("minio.ssl")
	config.Storage.MinIO.Location = viper.GetString("minio.location")
	config.Storage.S3.Bucket = viper.GetString("s3.bucket")
	config.Storage.S3.Region = viper.GetString("s3.region")
	config.Storage.S3.Prefix = viper.GetString("s3.prefix")

	// RabbitMQ config
	config.RabbitMQ.Host = viper.GetString("rabbitmq.host")
	config.RabbitMQ.Port = viper.GetInt("rabbitmq.port")
	config.RabbitMQ.User = viper.GetString("rabbitmq.user")
	config.RabbitMQ.Password = viper.GetString("rabbitmq.password")
	config.RabbitMQ.Queue = viper.GetString("rabbitmq.queue")
	config.RabbitMQ.Exchange = viper.GetString("rabbitmq.exchange")
	config.RabbitMQ.RoutingKey = viper.GetString("rabbitmq.routing.key")
	config.RabbitMQ.ConsumerTag = viper.GetString("rabbitmq.consumer.tag")

	// Worker config
	config.Worker.LockRetryDelay = viper.GetDuration("worker.lock.retry.delay")

	// Log config
	config.Log.Level = viper.GetString("log.level")
	config.Log.Format = viper.GetString("log.format")

	// Observability config
	config.Metrics.Enabled = viper.GetBool("metrics.enabled")
	config.Metrics.Endpoint = viper.GetString("metrics.endpoint")
	config.Tracing.Enabled = viper.GetBool("tracing.enabled")
	config.Tracing.ServiceName = viper.GetString("tracing.service.name")
	config.Tracing.ServiceVersion = viper.GetString("tracing.service.version")
	config.Tracing.Environment = viper.GetString("tracing.environment")
	config.Tracing.OTLPEndpoint = viper.GetString("tracing.otlp.endpoint")
	config.Tracing.Insecure = viper.GetBool("tracing.otlp.insecure")
	config.Tracing.SampleRatio = viper.GetFloat64("tracing.sample.ratio")

	// Compression config
	config.Compression.MaxDimension = viper.GetInt("compression.max.dimension")
	config.Compression.Quality = viper.GetFloat64("compression.quality")
	config.Compression.SkipIfLarger = viper.GetBool("compression.skip.if.larger")
	config.Compression.StripSensitive = viper.GetBool("compression.strip.sensitive")

	// Selection config
	config.Selection.DefaultMinimumMB = viper.GetFloat64("selection.default.minimum.mb")
	config.Selection.MinimumMB = viper.GetFloat64("selection.minimum.mb")
	config.Selection.MaximumMB = viper.GetFloat64("selection.maximum.mb")

	// Album config
	config.Albums.MarkerName = viper.GetString("albums.marker.name")
	config.Albums.CompressedPrefix = viper.GetString("albums.compressed.prefix")
	config.Albums.DefaultAlbum = viper.GetString("albums.default.album")

	// Library config
	config.Library.GrantOnRequest = viper.GetString("library.grant.on.request")

	return nil
}
