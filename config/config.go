package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	ServiceName string
	HTTPPort    string
	GRPCPort    string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisHost     string
	RedisPort     string
	RedisPassword string

	KafkaBrokers           []string
	KafkaOrderTopic        string
	KafkaNotificationTopic string
	KafkaPaymentTopic      string
	KafkaConsumerGroup     string

	JWTSecret      string
	JaegerEndpoint string
	CookieSecure   bool

	Currency        string
	CartTTL         time.Duration
	ProductCacheTTL time.Duration
	CarrierTimeout  time.Duration

	YooKassa YooKassaConfig
	CDEK     CDEKConfig
	Pochta   PochtaConfig
}

type YooKassaConfig struct {
	ShopID    string
	SecretKey string
	ReturnURL string
	BaseURL   string
}

type CDEKConfig struct {
	ClientID         string
	ClientSecret     string
	BaseURL          string
	FromLocationCode int
	TariffCode       int
}

type PochtaConfig struct {
	Token       string
	Key         string
	BaseURL     string
	FromIndex   string
	DefaultCost decimal.Decimal
}

func LoadConfig() *Config {
	return &Config{
		ServiceName: getEnv("SERVICE_NAME", "merch-svc"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		GRPCPort:    getEnv("GRPC_PORT", "50051"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnvFromFile("DB_PASSWORD_FILE", "DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "merchdb"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnvFromFile("REDIS_PASSWORD_FILE", "REDIS_PASSWORD", ""),

		KafkaBrokers:           splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaOrderTopic:        getEnv("KAFKA_ORDER_TOPIC", "order_events"),
		KafkaNotificationTopic: getEnv("KAFKA_NOTIFICATION_TOPIC", "notifications"),
		KafkaPaymentTopic:      getEnv("KAFKA_PAYMENT_TOPIC", "payment_events"),
		KafkaConsumerGroup:     getEnv("KAFKA_CONSUMER_GROUP", "merch-svc"),

		JWTSecret:      getEnvFromFile("JWT_SECRET_FILE", "JWT_SECRET", "change-me"),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		CookieSecure:   getEnv("COOKIE_SECURE", "false") == "true",

		Currency:        getEnv("CURRENCY", "RUB"),
		CartTTL:         getDuration("CART_TTL", 14*24*time.Hour),
		ProductCacheTTL: getDuration("PRODUCT_CACHE_TTL", 5*time.Minute),
		CarrierTimeout:  getDuration("CARRIER_TIMEOUT", 10*time.Second),

		YooKassa: YooKassaConfig{
			ShopID:    getEnv("YOOKASSA_SHOP_ID", ""),
			SecretKey: getEnvFromFile("YOOKASSA_SECRET_KEY_FILE", "YOOKASSA_SECRET_KEY", ""),
			ReturnURL: getEnv("YOOKASSA_RETURN_URL", "http://localhost:3000/payment/success"),
			BaseURL:   getEnv("YOOKASSA_BASE_URL", "https://api.yookassa.ru/v3"),
		},
		CDEK: CDEKConfig{
			ClientID:         getEnv("CDEK_CLIENT_ID", ""),
			ClientSecret:     getEnvFromFile("CDEK_CLIENT_SECRET_FILE", "CDEK_CLIENT_SECRET", ""),
			BaseURL:          getEnv("CDEK_BASE_URL", "https://api.cdek.ru"),
			FromLocationCode: getInt("CDEK_FROM_LOCATION_CODE", 270),
			TariffCode:       getInt("CDEK_TARIFF_CODE", 136),
		},
		Pochta: PochtaConfig{
			Token:       getEnvFromFile("POCHTA_TOKEN_FILE", "POCHTA_TOKEN", ""),
			Key:         getEnvFromFile("POCHTA_KEY_FILE", "POCHTA_KEY", ""),
			BaseURL:     getEnv("POCHTA_BASE_URL", "https://otpravka-api.pochta.ru"),
			FromIndex:   getEnv("POCHTA_FROM_INDEX", "630000"),
			DefaultCost: getDecimal("POCHTA_DEFAULT_COST", decimal.NewFromInt(350)),
		},
	}
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost + " port=" + c.DBPort + " user=" + c.DBUser +
		" password=" + c.DBPassword + " dbname=" + c.DBName + " sslmode=disable"
}

func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFromFile(fileKey, envKey, defaultValue string) string {
	if filePath := os.Getenv(fileKey); filePath != "" {
		if content, err := os.ReadFile(filePath); err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return getEnv(envKey, defaultValue)
}

func getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if v, err := decimal.NewFromString(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
