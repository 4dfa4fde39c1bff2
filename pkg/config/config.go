// Package config decodes the environment variables from spec section 6.2
// once at process start into an immutable record, passed explicitly down
// the call graph. There is no package-level mutable singleton.
package config

import (
	"os"
	"strconv"
	"time"
)

// AuthType selects the Auth backend.
type AuthType string

const (
	AuthTypeDummy AuthType = "dummy"
	AuthTypeOIDC  AuthType = "oidc"
)

// Config is the fully decoded process configuration.
type Config struct {
	Env      string
	LogLevel string
	AuthType AuthType

	APIServerPort int

	// DataDir roots the BoltDB file and, for the single-host ContainerdDriver,
	// the PVC bind-mount directories and captured job logs.
	DataDir          string
	ContainerdSocket string

	K8sNamespace       string
	ServiceAccountName string
	Image              string
	RestartPolicy      string
	ImagePullPolicy    string
	JobTTL             time.Duration
	PVCAccessMode      string
	PVCStorageClass    string

	MonitorTimeout time.Duration

	CoreConfigMapName        string
	MongoSecretName          string
	RedisSecretName          string
	S3SecretName             string
	InfraSecurityCtxEnabled  bool
	ExecSecurityCtxEnabled   bool
	SecurityContextPath      string

	Mongo MongoConfig
	Redis RedisConfig
	S3    S3Config
	OIDC  OIDCConfig

	// StdoutStderrTruncationBytes resolves the Open Question in spec
	// section 9: the per-stream truncation limit, surfaced to clients via
	// service-info's storage extension field.
	StdoutStderrTruncationBytes int
}

// MongoConfig configures the document-store driver the Store interface
// could be backed by; the shipped reference Store is BoltDB (see
// DESIGN.md), so these fields are carried for ambient completeness and
// operator-facing documentation, not consumed by pkg/store.
type MongoConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	MaxPoolSize int
}

// RedisConfig configures the Bus's network-backed variant.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

// S3Config configures the `s3://` Object Store Client scheme.
type S3Config struct {
	URL             string
	AccessKeyID     string
	SecretAccessKey string
}

// OIDCConfig configures the OIDC Auth variant.
type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getenvSeconds(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

// Load decodes the process environment into a Config. It never mutates
// package state; callers hold onto the returned value and pass it down.
func Load() *Config {
	return &Config{
		Env:      getenv("POIESIS_ENV", "development"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		AuthType: AuthType(getenv("AUTH_TYPE", string(AuthTypeDummy))),

		APIServerPort: getenvInt("POIESIS_API_SERVER_PORT", 8080),

		DataDir:          getenv("POIESIS_DATA_DIR", "/var/lib/poiesis"),
		ContainerdSocket: getenv("POIESIS_CONTAINERD_SOCKET", ""),

		K8sNamespace:       getenv("POIESIS_K8S_NAMESPACE", "default"),
		ServiceAccountName: getenv("POIESIS_SERVICE_ACCOUNT_NAME", "poiesis"),
		Image:              getenv("POIESIS_IMAGE", "poiesis:latest"),
		RestartPolicy:      getenv("POIESIS_RESTART_POLICY", "Never"),
		ImagePullPolicy:    getenv("POIESIS_IMAGE_PULL_POLICY", "IfNotPresent"),
		JobTTL:             getenvSeconds("POIESIS_JOB_TTL", 24*time.Hour),
		PVCAccessMode:      getenv("POIESIS_PVC_ACCESS_MODE", "ReadWriteOnce"),
		PVCStorageClass:    getenv("POIESIS_PVC_STORAGE_CLASS", ""),

		MonitorTimeout: getenvSeconds("MONITOR_TIMEOUT_SECONDS", 10*time.Second),

		CoreConfigMapName:       getenv("POIESIS_CORE_CONFIGMAP_NAME", "poiesis-core"),
		MongoSecretName:         getenv("POIESIS_MONGO_SECRET_NAME", ""),
		RedisSecretName:         getenv("POIESIS_REDIS_SECRET_NAME", ""),
		S3SecretName:            getenv("POIESIS_S3_SECRET_NAME", ""),
		InfraSecurityCtxEnabled: getenvBool("POIESIS_INFRASTRUCTURE_SECURITY_CONTEXT_ENABLED", true),
		ExecSecurityCtxEnabled:  getenvBool("POIESIS_EXECUTOR_SECURITY_CONTEXT_ENABLED", true),
		SecurityContextPath:     getenv("POIESIS_SECURITY_CONTEXT_PATH", "/etc/poiesis/security"),

		Mongo: MongoConfig{
			Host:        getenv("MONGODB_HOST", "localhost"),
			Port:        getenvInt("MONGODB_PORT", 27017),
			User:        getenv("MONGODB_USER", ""),
			Password:    getenv("MONGODB_PASSWORD", ""),
			Database:    getenv("MONGODB_DATABASE", "poiesis"),
			MaxPoolSize: getenvInt("MONGODB_MAX_POOL_SIZE", 100),
		},
		Redis: RedisConfig{
			Host:     getenv("MESSAGE_BROKER_HOST", ""),
			Port:     getenvInt("MESSAGE_BROKER_PORT", 6379),
			Password: getenv("MESSAGE_BROKER_PASSWORD", ""),
		},
		S3: S3Config{
			URL:             getenv("S3_URL", ""),
			AccessKeyID:     getenv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getenv("AWS_SECRET_ACCESS_KEY", ""),
		},
		OIDC: OIDCConfig{
			Issuer:       getenv("OIDC_ISSUER", ""),
			ClientID:     getenv("OIDC_CLIENT_ID", ""),
			ClientSecret: getenv("OIDC_CLIENT_SECRET", ""),
		},

		StdoutStderrTruncationBytes: getenvInt("POIESIS_STDOUT_STDERR_TRUNCATION_BYTES", 64*1024),
	}
}
