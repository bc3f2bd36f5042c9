package config

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/princinho/vrixsa/devices"
	"github.com/princinho/vrixsa/utils"
)

type Config struct {
	Port    string
	GinMode string

	MongoURI     string
	DatabaseName string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	EmailQueueKey string

	JWTSecret        string
	JWTRefreshSecret string
	JWTIssuer        string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	OneTimeTTL       time.Duration

	Cookies        utils.CookieConfig
	AllowedOrigins []string
	ClientURL      string

	AdminEmail    string
	AdminPassword string

	GoogleClientID string
	DevicePolicy   devices.Policy

	LogLevel  string
	LogFormat string

	StorageDriver   string
	R2Bucket        string
	R2AccessKey     string
	R2SecretKey     string
	R2Endpoint      string
	R2PublicDomain  string
	GCSBucket       string
	GCSCredentials  string
	MaxUploadSizeMB int
}

// Load reads .env if present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using system environment variables")
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	policy, err := devices.ParsePolicy(os.Getenv("DEVICE_MATCH_POLICY"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:    getenv("PORT", "8080"),
		GinMode: getenv("GIN_MODE", "release"),

		MongoURI:     os.Getenv("MONGODB_URI"),
		DatabaseName: getenv("DATABASE_NAME", "vrixsa"),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       utils.ParseIntDefault(os.Getenv("REDIS_DB"), 0),
		EmailQueueKey: getenv("EMAIL_QUEUE_KEY", "vrixsa_email-queue"),

		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWTRefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),
		JWTIssuer:        getenv("JWT_ISSUER", "vrixsa"),
		AccessTTL:        positiveMinutes("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTTL:       positiveDays("REFRESH_TOKEN_TTL_DAYS", 14),
		OneTimeTTL:       positiveMinutes("ONE_TIME_SECRET_TTL_MINUTES", 15),

		Cookies: utils.CookieConfig{
			Secure:   getenvBool("COOKIE_SECURE", true),
			Domain:   os.Getenv("COOKIE_DOMAIN"),
			SameSite: utils.ParseSameSite(os.Getenv("COOKIE_SAMESITE")),
		},
		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
		ClientURL:      strings.TrimRight(getenv("CLIENT_URL", "http://localhost:3000"), "/"),

		AdminEmail:    utils.NormalizeEmail(os.Getenv("ADMIN_EMAIL")),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),

		GoogleClientID: os.Getenv("GOOGLE_CLIENT_ID"),
		DevicePolicy:   policy,

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "json"),

		StorageDriver:   strings.ToLower(os.Getenv("STORAGE_DRIVER")),
		R2Bucket:        os.Getenv("R2_BUCKET"),
		R2AccessKey:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretKey:     os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2Endpoint:      os.Getenv("R2_ENDPOINT"),
		R2PublicDomain:  strings.TrimRight(os.Getenv("R2_PUBLIC_DOMAIN"), "/"),
		GCSBucket:       os.Getenv("GCS_BUCKET"),
		GCSCredentials:  os.Getenv("CREDENTIALS_FILE_LOCATION"),
		MaxUploadSizeMB: utils.ParseIntDefault(os.Getenv("MAX_UPLOAD_SIZE_MB"), 5),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.MongoURI == "" {
		errs = append(errs, errors.New("MONGODB_URI is required"))
	}
	if c.JWTSecret == "" || c.JWTRefreshSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET and JWT_REFRESH_SECRET are required"))
	} else if c.JWTSecret == c.JWTRefreshSecret {
		errs = append(errs, errors.New("JWT_SECRET and JWT_REFRESH_SECRET must differ"))
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		errs = append(errs, errors.New("ADMIN_EMAIL and ADMIN_PASSWORD must be set together"))
	}
	switch c.StorageDriver {
	case "":
	case "r2":
		if c.R2Bucket == "" || c.R2AccessKey == "" || c.R2SecretKey == "" || c.R2Endpoint == "" {
			errs = append(errs, errors.New("STORAGE_DRIVER=r2 requires R2_BUCKET, R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY and R2_ENDPOINT"))
		}
		if !absoluteURL(c.R2PublicDomain) {
			errs = append(errs, errors.New("STORAGE_DRIVER=r2 requires R2_PUBLIC_DOMAIN as an absolute http(s) URL"))
		}
	case "gcs":
		if c.GCSBucket == "" {
			errs = append(errs, errors.New("STORAGE_DRIVER=gcs requires GCS_BUCKET"))
		}
	default:
		errs = append(errs, errors.New("STORAGE_DRIVER must be r2, gcs or empty"))
	}
	if c.Cookies.SameSite == http.SameSiteNoneMode && !c.Cookies.Secure {
		errs = append(errs, errors.New("COOKIE_SAMESITE=none requires COOKIE_SECURE=true"))
	}
	return errors.Join(errs...)
}

func absoluteURL(v string) bool {
	u, err := url.Parse(v)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return b
}

func positiveMinutes(key string, def int) time.Duration {
	n := utils.ParseIntDefault(os.Getenv(key), def)
	if n <= 0 {
		n = def
	}
	return time.Duration(n) * time.Minute
}

func positiveDays(key string, def int) time.Duration {
	n := utils.ParseIntDefault(os.Getenv(key), def)
	if n <= 0 {
		n = def
	}
	return time.Duration(n) * 24 * time.Hour
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
