package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации пайплайна наблюдаемости.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Collector   CollectorConfig   `mapstructure:"collector"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Directory   DirectoryConfig   `mapstructure:"directory"`
	Bridge      BridgeConfig      `mapstructure:"bridge"`
	Logger      LoggerConfig      `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера (коллектор и консоль).
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub и presence-сеты).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT операторов.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для Console API
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	PublicKey      []byte
	PrivateKey     []byte
}

// CollectorConfig — настройки пути приема: буфер-синк и rate limit.
type CollectorConfig struct {
	SinkBufferSize    int           `mapstructure:"sink_buffer_size"`
	SinkFlushInterval time.Duration `mapstructure:"sink_flush_interval"`
	SinkBatchSize     int           `mapstructure:"sink_batch_size"`
	IngestRateLimit   float64       `mapstructure:"ingest_rate_limit"` // запросов в секунду
	IngestBurst       int           `mapstructure:"ingest_burst"`
}

// CorrelationConfig — параметры временного окна привязки логов.
type CorrelationConfig struct {
	Lookback       time.Duration `mapstructure:"lookback"`        // до события
	TrailingBuffer time.Duration `mapstructure:"trailing_buffer"` // после следующего события
	Lookahead      time.Duration `mapstructure:"lookahead"`       // если событие самое свежее
}

// DirectoryConfig — живой каталог сессий.
type DirectoryConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	SampleSize      int           `mapstructure:"sample_size"` // сколько свежих строк тянем
	MaxCards        int           `mapstructure:"max_cards"`
}

// BridgeConfig — мост к логам контейнерного рантайма.
type BridgeConfig struct {
	Host         string        `mapstructure:"host"` // unix:///var/run/docker.sock или tcp://...
	PollInterval time.Duration `mapstructure:"poll_interval"`
	TailLines    int           `mapstructure:"tail_lines"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Загрузка ключей из Файла ИЛИ из ENV (для Docker/K8s сам PEM
	// может прилетать переменной окружения)
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("logger.level", "info")
	v.SetDefault("collector.sink_buffer_size", 10000)
	v.SetDefault("collector.sink_flush_interval", 500*time.Millisecond)
	v.SetDefault("collector.sink_batch_size", 100)
	v.SetDefault("collector.ingest_rate_limit", 100)
	v.SetDefault("collector.ingest_burst", 20)
	v.SetDefault("correlation.lookback", 30*time.Second)
	v.SetDefault("correlation.trailing_buffer", 2*time.Second)
	v.SetDefault("correlation.lookahead", 60*time.Second)
	v.SetDefault("directory.refresh_interval", 10*time.Second)
	v.SetDefault("directory.sample_size", 200)
	v.SetDefault("directory.max_cards", 15)
	v.SetDefault("bridge.host", "unix:///var/run/docker.sock")
	v.SetDefault("bridge.poll_interval", 5*time.Second)
	v.SetDefault("bridge.tail_lines", 200)
}

// loadKeyResource — универсальный хелпер загрузки ключевого материала
func loadKeyResource(path string, envDataKey string) []byte {
	// Если ключ прилетел напрямую в ENV (Base64 или PEM)
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	// Иначе читаем файл по пути из конфига
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
