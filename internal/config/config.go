package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	// HTTP
	HTTPPort string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TimescaleDB (empty DSN disables the anomaly log)
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32
	DBEnabled  bool

	// Kafka (empty brokers disables the consumer)
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// GTFS reference data
	GTFSDir string

	// Pipeline channels
	MirrorChannelSize int
	AlertChannelSize  int

	// Detection
	HistoryCapacity     int
	StaleSeconds        float64
	StationarySeconds   float64
	StationaryDistanceM float64
	SpeedSpikeFactor    float64
	SpeedDropFactor     float64
	SpeedDropMinMean    float64
	MinSpeedSamples     int
	GeofenceMinLat      float64
	GeofenceMaxLat      float64
	GeofenceMinLon      float64
	GeofenceMaxLon      float64

	// Fan-out
	SubscriberQueueSize int

	// Retention (0 disables reaping, matching the reference behavior)
	RetentionSeconds float64

	// Auth. VehicleAPIKeys binds a key to a single vehicle id
	// ("key:vehicle" pairs); ValidAPIKeys are fleet-wide.
	AuthCacheTTLSeconds int
	ValidAPIKeys        []string
	VehicleAPIKeys      map[string]string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		HTTPPort:            getEnv("HTTP_PORT", "8000"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBUser:              getEnv("DB_USER", "ghostbus_user"),
		DBPassword:          getEnv("DB_PASSWORD", "ghostbus_password"),
		DBName:              getEnv("DB_NAME", "ghostbus"),
		DBMaxConns:          int32(getEnvInt("DB_MAX_CONNS", 10)),
		DBEnabled:           getEnvBool("DB_ENABLED", false),
		KafkaBrokers:        splitNonEmpty(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "bus-positions"),
		KafkaGroupID:        getEnv("KAFKA_GROUP_ID", "ghostbus-detector"),
		GTFSDir:             getEnv("GTFS_DIR", ""),
		MirrorChannelSize:   getEnvInt("MIRROR_CHANNEL_SIZE", 50000),
		AlertChannelSize:    getEnvInt("ALERT_CHANNEL_SIZE", 10000),
		HistoryCapacity:     getEnvInt("HISTORY_CAPACITY", 60),
		StaleSeconds:        getEnvFloat("STALE_SECONDS", 120),
		StationarySeconds:   getEnvFloat("STATIONARY_SECONDS", 60),
		StationaryDistanceM: getEnvFloat("STATIONARY_DISTANCE_M", 20),
		SpeedSpikeFactor:    getEnvFloat("SPEED_SPIKE_FACTOR", 3),
		SpeedDropFactor:     getEnvFloat("SPEED_DROP_FACTOR", 0.3),
		SpeedDropMinMean:    getEnvFloat("SPEED_DROP_MIN_MEAN", 10),
		MinSpeedSamples:     getEnvInt("MIN_SPEED_SAMPLES", 5),
		GeofenceMinLat:      getEnvFloat("GEOFENCE_MIN_LAT", 37.0),
		GeofenceMaxLat:      getEnvFloat("GEOFENCE_MAX_LAT", 41.0),
		GeofenceMinLon:      getEnvFloat("GEOFENCE_MIN_LON", -109.0),
		GeofenceMaxLon:      getEnvFloat("GEOFENCE_MAX_LON", -102.0),
		SubscriberQueueSize: getEnvInt("SUBSCRIBER_QUEUE_SIZE", 256),
		RetentionSeconds:    getEnvFloat("RETENTION_SECONDS", 0),
		AuthCacheTTLSeconds: getEnvInt("AUTH_CACHE_TTL_SECONDS", 300),
		ValidAPIKeys:        splitNonEmpty(getEnv("VALID_API_KEYS", "")),
		VehicleAPIKeys:      splitPairs(getEnv("VEHICLE_API_KEYS", "")),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "text"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitPairs(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range splitNonEmpty(s) {
		key, vehicle, ok := strings.Cut(part, ":")
		if !ok || key == "" || vehicle == "" {
			continue
		}
		out[key] = vehicle
	}
	return out
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
