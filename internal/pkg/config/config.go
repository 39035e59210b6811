// internal/pkg/config/config.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	StorageMySQL  = "mysql"
	StorageMemory = "memory"

	LockLocal     = "local"
	LockRedis     = "redis"
	LockZookeeper = "zookeeper"

	ConflictReject   = "reject"
	ConflictExisting = "existing"

	// DefaultPath 在未设置 CONFIG_FILE 时使用
	DefaultPath = "configs/order-payment.yaml"
)

// Config 是整个服务的配置根节点
type Config struct {
	App     AppConfig     `yaml:"app"`
	Infra   InfraConfig   `yaml:"infra"`
	Storage StorageConfig `yaml:"storage"`
	Lock    LockConfig    `yaml:"lock"`
	Payment PaymentConfig `yaml:"payment"`
	Outbox  OutboxConfig  `yaml:"outbox"`
}

type AppConfig struct {
	Name              string        `yaml:"name"`
	Port              int           `yaml:"port"`
	LogLevel          string        `yaml:"logLevel"`
	ProcessingTimeout time.Duration `yaml:"processingTimeout"`
}

type InfraConfig struct {
	Kafka     KafkaConfig     `yaml:"kafka"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Nacos     NacosConfig     `yaml:"nacos"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
}

type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	Concurrency   int           `yaml:"concurrency"`
	MaxAttempts   int           `yaml:"maxAttempts"`
	MaxRetries    int           `yaml:"maxRetries"`
	RetryBackoff  time.Duration `yaml:"retryBackoff"`
}

type MySQLConfig struct {
	// DSN 非空时优先使用，否则由下面的字段拼装
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type RedisConfig struct {
	Addrs    []string      `yaml:"addrs"`
	Password string        `yaml:"password"`
	// LockTTL 是订单锁的租期；为 0 或短于支付 saga 的发布重试预算时，启动时按预算提升
	LockTTL  time.Duration `yaml:"lockTTL"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
	LockTimeout    time.Duration `yaml:"lockTimeout"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"serverAddrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

type JaegerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
}

type LockConfig struct {
	Backend string `yaml:"backend"`
}

type PaymentConfig struct {
	ConflictPolicy  string `yaml:"conflictPolicy"`
	PointRule       string `yaml:"pointRule"`
	DeliveryCompany string `yaml:"deliveryCompany"`
}

type OutboxConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"pollInterval"`
	BatchSize    int           `yaml:"batchSize"`
}

// Default 返回一份无需任何外部依赖即可运行的配置 (内存存储 + 本地锁)
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:              "order-payment-service",
			Port:              8080,
			LogLevel:          "info",
			ProcessingTimeout: 30 * time.Second,
		},
		Infra: InfraConfig{
			Kafka: KafkaConfig{
				Brokers:       []string{"localhost:9092"},
				ConsumerGroup: "order-service-group",
				Concurrency:   3,
				MaxAttempts:   3,
				MaxRetries:    3,
				RetryBackoff:  time.Second,
			},
			MySQL: MySQLConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Database: "orderpay",
			},
			Redis: RedisConfig{
				Addrs: []string{"localhost:6379"},
			},
			Zookeeper: ZookeeperConfig{
				Servers:        []string{"localhost:2181"},
				SessionTimeout: 5 * time.Second,
				LockTimeout:    30 * time.Second,
			},
			Nacos: NacosConfig{
				ServerAddrs: "localhost:8848",
				Group:       "DEFAULT_GROUP",
			},
			Jaeger: JaegerConfig{
				Endpoint: "http://localhost:14268/api/traces",
			},
		},
		Storage: StorageConfig{Driver: StorageMemory},
		Lock:    LockConfig{Backend: LockLocal},
		Payment: PaymentConfig{
			ConflictPolicy:  ConflictReject,
			PointRule:       "0.1",
			DeliveryCompany: "CJ Logistics",
		},
		Outbox: OutboxConfig{
			Enabled:      true,
			PollInterval: 5 * time.Second,
			BatchSize:    50,
		},
	}
}

// Load 读取 YAML 配置文件并用环境变量覆盖。
// path 为空时读取 CONFIG_FILE，默认文件不存在时退回到 Default()。
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = getEnv("CONFIG_FILE", DefaultPath)
		explicit = path != DefaultPath
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", path)
		}
	case os.IsNotExist(err) && !explicit:
		// 使用默认配置
	default:
		return nil, errors.Wrapf(err, "read config file %s", path)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok && v != "" {
		c.Infra.Kafka.Brokers = splitList(v)
	}
	if v, ok := os.LookupEnv("MYSQL_DSN"); ok && v != "" {
		c.Infra.MySQL.DSN = v
	}
	if v, ok := os.LookupEnv("REDIS_ADDRS"); ok && v != "" {
		c.Infra.Redis.Addrs = splitList(v)
	}
	if v, ok := os.LookupEnv("ZK_SERVERS"); ok && v != "" {
		c.Infra.Zookeeper.Servers = splitList(v)
	}
	if v, ok := os.LookupEnv("NACOS_SERVER_ADDRS"); ok && v != "" {
		c.Infra.Nacos.ServerAddrs = v
		c.Infra.Nacos.Enabled = true
	}
	if v, ok := os.LookupEnv("NACOS_NAMESPACE"); ok {
		c.Infra.Nacos.Namespace = v
	}
	if v, ok := os.LookupEnv("JAEGER_ENDPOINT"); ok && v != "" {
		c.Infra.Jaeger.Endpoint = v
		c.Infra.Jaeger.Enabled = true
	}
	if v, ok := os.LookupEnv("HTTP_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.App.Port = port
		}
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok && v != "" {
		c.App.LogLevel = v
	}
	if v, ok := os.LookupEnv("STORAGE_DRIVER"); ok && v != "" {
		c.Storage.Driver = v
	}
	if v, ok := os.LookupEnv("LOCK_BACKEND"); ok && v != "" {
		c.Lock.Backend = v
	}
}

// Validate 检查枚举类配置项是否合法
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMySQL, StorageMemory:
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Lock.Backend {
	case LockLocal, LockRedis, LockZookeeper:
	default:
		return errors.Errorf("unknown lock backend %q", c.Lock.Backend)
	}
	switch c.Payment.ConflictPolicy {
	case ConflictReject, ConflictExisting:
	default:
		return errors.Errorf("unknown payment conflict policy %q", c.Payment.ConflictPolicy)
	}
	if len(c.Infra.Kafka.Brokers) == 0 {
		return errors.New("kafka brokers must not be empty")
	}
	if c.Infra.Kafka.Concurrency <= 0 {
		c.Infra.Kafka.Concurrency = 1
	}
	return nil
}

// FormatDSN 返回 MySQL 连接串，显式配置的 DSN 优先
func (m MySQLConfig) FormatDSN() string {
	if m.DSN != "" {
		return m.DSN
	}
	cfg := mysql.NewConfig()
	cfg.User = m.User
	cfg.Passwd = m.Password
	cfg.Net = "tcp"
	cfg.Addr = m.Host + ":" + strconv.Itoa(m.Port)
	cfg.DBName = m.Database
	cfg.ParseTime = true
	// UPDATE 在值未变化时也返回匹配行数，用于判断记录是否存在
	cfg.ClientFoundRows = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
