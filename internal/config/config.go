package config

import (
	"fmt"
	"os"
	"strconv"
)

const ServiceName = "stock-saga"

const (
	// Both topics are partitioned by transaction id
	TransactionPlacedTopic = "transaction-placed"
	TransactionStatusTopic = "transaction-status"

	ProcessorGroupID = "transaction-processor"
	ResultGroupID    = "transaction-result"
)

type Config struct {
	HTTPAddr           string
	MySQLDSN           string
	RedisAddr          string
	KafkaBroker        string
	WorkerCount        int
	CompensationPolicy string
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		MySQLDSN:           getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/marketplace?parseTime=true"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBroker:        os.Getenv("KAFKA_BROKER"),
		CompensationPolicy: getEnv("COMPENSATION_POLICY", "leave_partial"),
	}

	if cfg.KafkaBroker == "" {
		return nil, fmt.Errorf("KAFKA_BROKER environment variable is required")
	}

	workers, err := strconv.Atoi(getEnv("WORKER_COUNT", "4"))
	if err != nil || workers < 1 {
		return nil, fmt.Errorf("WORKER_COUNT must be a positive integer")
	}
	cfg.WorkerCount = workers

	switch cfg.CompensationPolicy {
	case "leave_partial", "compensate":
	default:
		return nil, fmt.Errorf("COMPENSATION_POLICY must be leave_partial or compensate")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
