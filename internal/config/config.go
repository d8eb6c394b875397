package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/ride-lifecycle/internal/ride"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	FareMin            float64
	FareSpread         float64
	PremiumDiscount    float64
	VIPMinRating       float64
	LookupDelay        time.Duration
	MatchDelay         time.Duration
	PaymentDelay       time.Duration
	PaymentSuccessRate float64

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		KafkaTopic:         "ride-events",
		FareMin:            ride.DefaultFareMin,
		FareSpread:         ride.DefaultFareSpread,
		PremiumDiscount:    0.2,
		VIPMinRating:       4.5,
		LookupDelay:        time.Second,
		MatchDelay:         time.Second,
		PaymentDelay:       time.Second,
		PaymentSuccessRate: 0.8,
		LogLevel:           "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	setFloatFromEnv(&cfg.FareMin, "FARE_MIN", &errs)
	setFloatFromEnv(&cfg.FareSpread, "FARE_SPREAD", &errs)
	setFloatFromEnv(&cfg.PremiumDiscount, "PREMIUM_DISCOUNT", &errs)
	setFloatFromEnv(&cfg.VIPMinRating, "VIP_MIN_RATING", &errs)
	setDurationFromEnv(&cfg.LookupDelay, "DRIVER_LOOKUP_DELAY", &errs)
	setDurationFromEnv(&cfg.MatchDelay, "MATCH_DELAY", &errs)
	setDurationFromEnv(&cfg.PaymentDelay, "PAYMENT_DELAY", &errs)
	setFloatFromEnv(&cfg.PaymentSuccessRate, "PAYMENT_SUCCESS_RATE", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.FareMin < 0 || cfg.FareSpread <= 0 {
		errs = append(errs, fmt.Errorf("FARE_MIN must be >= 0 and FARE_SPREAD > 0"))
	}
	if cfg.LookupDelay < 0 || cfg.MatchDelay < 0 || cfg.PaymentDelay < 0 {
		errs = append(errs, fmt.Errorf("DRIVER_LOOKUP_DELAY, MATCH_DELAY and PAYMENT_DELAY must be >= 0"))
	}
	if cfg.PremiumDiscount < 0 || cfg.PremiumDiscount >= 1 {
		errs = append(errs, fmt.Errorf("PREMIUM_DISCOUNT must be in [0,1)"))
	}
	if cfg.VIPMinRating < 1 || cfg.VIPMinRating > 5 {
		errs = append(errs, fmt.Errorf("VIP_MIN_RATING must be in [1,5]"))
	}
	if cfg.PaymentSuccessRate < 0 || cfg.PaymentSuccessRate > 1 {
		errs = append(errs, fmt.Errorf("PAYMENT_SUCCESS_RATE must be in [0,1]"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig drives the process that projects ride events into Redis.
type ConsumerConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	RedisAddr      string
	RedisPassword  string
	RedisKeyPrefix string

	MetricsAddr string
	LogLevel    string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		KafkaBrokers:   []string{"localhost:9092"},
		KafkaTopic:     "ride-events",
		KafkaGroup:     "ride-lifecycle-consumer",
		RedisAddr:      "localhost:6379",
		RedisKeyPrefix: "ride:status:",
		MetricsAddr:    ":2112",
		LogLevel:       "info",
	}
	var errs []error

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisKeyPrefix, "REDIS_KEY_PREFIX")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must name at least one broker"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
