package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	RedisURL      string
	JWTSecret     string
	CORSOrigin    string
	LogLevel      string
	PublicBaseURL string
	// Forum rules
	Tiers                string
	SeedFile             string
	VoteMode             string
	UpvoteMilestones     []int
	ReportAlertThreshold int
	ModerationSweepCron  string
	MaxTitleLength       int
	MaxBodyLength        int
	MaxTags              int
	// Notification dispatch
	NotifyQueueSize    int
	NotifyWorkers      int
	RocketMQNameServer string
	RocketMQTopic      string
	RocketMQGroup      string
	// Attachment storage (S3 compatible)
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool
}

// Load reads configuration from the environment, after merging a local .env file if one exists.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:          getenv("API_ADDR", ":8787"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		MigrationsDir: getenv("FORUM_MIGRATIONS_DIR", "./db/migrations"),
		RedisURL:      getenv("REDIS_URL", ""),
		JWTSecret:     getenv("FORUM_JWT_SECRET", "agora-dev-secret"),
		CORSOrigin:    getenv("FORUM_CORS_ORIGIN", "*"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		PublicBaseURL: strings.TrimRight(getenv("PUBLIC_BASE_URL", ""), "/"),

		Tiers:                getenv("FORUM_TIERS", "free,core|community,premium"),
		SeedFile:             getenv("FORUM_SEED_FILE", ""),
		VoteMode:             getenv("VOTE_MODE", "dedup"),
		UpvoteMilestones:     getenvInts("UPVOTE_MILESTONES", []int{5, 10, 25, 50, 100}),
		ReportAlertThreshold: getenvInt("REPORT_ALERT_THRESHOLD", 3),
		ModerationSweepCron:  getenv("MODERATION_SWEEP_CRON", "@every 5m"),
		MaxTitleLength:       getenvInt("MAX_TITLE_LENGTH", 200),
		MaxBodyLength:        getenvInt("MAX_BODY_LENGTH", 20000),
		MaxTags:              getenvInt("MAX_TAGS", 10),

		NotifyQueueSize:    getenvInt("NOTIFY_QUEUE_SIZE", 1024),
		NotifyWorkers:      getenvInt("NOTIFY_WORKERS", 4),
		RocketMQNameServer: getenv("ROCKETMQ_NAMESERVER", ""),
		RocketMQTopic:      getenv("ROCKETMQ_TOPIC", "forum_notifications"),
		RocketMQGroup:      getenv("ROCKETMQ_GROUP", "agora_forum"),

		S3Endpoint:  getenv("S3_ENDPOINT", ""),
		S3AccessKey: getenv("S3_ACCESS_KEY", ""),
		S3SecretKey: getenv("S3_SECRET_KEY", ""),
		S3Bucket:    getenv("S3_BUCKET", "forum-attachments"),
		S3Region:    getenv("S3_REGION", "us-east-1"),
		S3UseSSL:    getenv("S3_USE_SSL", "true") == "true",
	}
}

// Seed is the startup file describing the tier ladder and the categories to create.
type Seed struct {
	Tiers      [][]string     `yaml:"tiers"`
	Categories []SeedCategory `yaml:"categories"`
}

type SeedCategory struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Icon        string `yaml:"icon"`
	Color       string `yaml:"color"`
	Tier        string `yaml:"tier"`
}

// LoadSeed parses a seed file. Categories keep their declaration order.
func LoadSeed(path string) (Seed, error) {
	var seed Seed
	raw, err := os.ReadFile(path)
	if err != nil {
		return seed, fmt.Errorf("read seed file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return seed, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	seen := map[string]bool{}
	for i, c := range seed.Categories {
		if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.Name) == "" {
			return seed, fmt.Errorf("seed category %d: id and name are required", i)
		}
		if seen[c.ID] {
			return seed, fmt.Errorf("seed category %q declared twice", c.ID)
		}
		seen[c.ID] = true
	}
	return seed, nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getenvInts parses a comma separated list, sorted ascending. Any bad entry yields the fallback.
func getenvInts(key string, fallback []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return fallback
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
