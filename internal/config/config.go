package config

import (
	"os"
	"strconv"
	"strings"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
	// ConnectAttempts bounds the startup pings made before giving up.
	ConnectAttempts int
	AppName         string
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// StorageConfig selects where uploaded assets are written.
// Backend is either "local" (UploadRoot on disk) or "minio".
type StorageConfig struct {
	Backend   string
	Root      string
	URLPrefix string
}

// UploadPolicyConfig describes one upload kind: where it goes, what it accepts
// and the message returned when the media type is refused.
type UploadPolicyConfig struct {
	Subfolder    string
	AllowedTypes []string
	MaxBytes     int64
	ErrorMessage string
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	Port       string
	Timezone   string
	LogLevel   string
	NotifyAddr string
	BcryptCost int
	Database   DatabaseConfig
	MinIO      MinIOConfig
	Storage    StorageConfig
	Avatar     UploadPolicyConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		Port:       getEnv("PORT", "8080"),
		Timezone:   getEnv("TZ", "UTC"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		NotifyAddr: getEnv("NOTIFY_ADDR", ":8081"),
		BcryptCost: getEnvInt("BCRYPT_COST", 10),
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
			ConnectAttempts:    getEnvInt("DB_CONNECT_ATTEMPTS", 5),
			AppName:            getEnv("DB_APPLICATION_NAME", "peopleapi"),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		Storage: StorageConfig{
			Backend:   getEnv("STORAGE_BACKEND", "local"),
			Root:      getEnv("UPLOAD_ROOT", "public/uploads"),
			URLPrefix: getEnv("UPLOAD_URL_PREFIX", "/uploads"),
		},
		Avatar: UploadPolicyConfig{
			Subfolder:    getEnv("AVATAR_SUBFOLDER", "avatars"),
			AllowedTypes: getEnvList("AVATAR_ALLOWED_TYPES", []string{"image/jpeg", "image/jpg", "image/png"}),
			MaxBytes:     int64(getEnvInt("AVATAR_MAX_BYTES", 1000000)),
			ErrorMessage: getEnv("AVATAR_ERROR_MESSAGE", "Only .jpg, .jpeg or .png format allowed!"),
		},
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

// getEnvList splits a comma-separated value, dropping blank entries.
func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
