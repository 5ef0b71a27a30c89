package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"
)

const ProductionEnv = "production"

// Config holds everything read from the environment at startup.
type Config struct {
	Port                string `validate:"required"`
	Env                 string
	MongoURI            string `validate:"required"`
	MongoDatabase       string `validate:"required"`
	RedisAddress        string `validate:"required"`
	RedisPassword       string
	IssueLimitPrefix    string `validate:"required"`
	IssueDailyLimit     int    `validate:"gt=0"`
	JWTSecret           string `validate:"required"`
	Domain              string
	CORSOrigins         []string
	PointsPerResolution int64  `validate:"gt=0"`
	MaxAwardPoints      int64  `validate:"gtefield=PointsPerResolution"`
	GCSBucket           string
	FirebaseCredentials string
	AwardRetrySpec      string `validate:"required"`
	// AuthoritySignup lets the public register endpoint create authority accounts.
	AuthoritySignup bool
}

// Load reads the environment. Call godotenv.Load before it to pick up a .env file.
func Load() (Config, error) {
	cfg := Config{
		Port:                getenv("PORT", "8080"),
		Env:                 os.Getenv("GO_ENV"),
		MongoURI:            os.Getenv("MONGODB_URI"),
		MongoDatabase:       getenv("MONGODB_DATABASE", "civic"),
		RedisAddress:        os.Getenv("REDIS_ADDRESS"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		IssueLimitPrefix:    getenv("REDIS_QUEUE_FOR_ISSUE_LIMIT", "issue_limit"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		Domain:              os.Getenv("DOMAIN"),
		CORSOrigins:         splitList(os.Getenv("CORS_ORIGINS")),
		GCSBucket:           os.Getenv("GCS_BUCKET"),
		FirebaseCredentials: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		AwardRetrySpec:      getenv("AWARD_RETRY_SPEC", "0 */5 * * * *"),
	}

	var err error
	if cfg.IssueDailyLimit, err = cast.ToIntE(getenv("ISSUE_DAILY_LIMIT", "10")); err != nil {
		return Config{}, fmt.Errorf("ISSUE_DAILY_LIMIT: %w", err)
	}
	if cfg.PointsPerResolution, err = cast.ToInt64E(getenv("POINTS_PER_RESOLUTION", "50")); err != nil {
		return Config{}, fmt.Errorf("POINTS_PER_RESOLUTION: %w", err)
	}
	if cfg.MaxAwardPoints, err = cast.ToInt64E(getenv("MAX_AWARD_POINTS", "1000")); err != nil {
		return Config{}, fmt.Errorf("MAX_AWARD_POINTS: %w", err)
	}

	if cfg.AuthoritySignup, err = cast.ToBoolE(getenv("ALLOW_AUTHORITY_SIGNUP", "false")); err != nil {
		return Config{}, fmt.Errorf("ALLOW_AUTHORITY_SIGNUP: %w", err)
	}

	if err = cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

func (c *Config) IsProduction() bool {
	return c.Env == ProductionEnv
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
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
