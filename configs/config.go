package configs

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"churn-insight/internal/database"
	"churn-insight/internal/llm"
	"churn-insight/internal/recommend"
	"churn-insight/internal/scoring"
)

type Config struct {
	ServerPort       string
	DBDriver         string
	DatabaseURL      string
	ReadDatabaseURLs []string
	ScoreTable       string
	RedisURL         string
	CacheTTL         time.Duration
	JWTSecret        string
	JWTTTL           time.Duration
	AdminKeyHash     string
	RateLimitPerHour int
	EnableWebSocket  bool
	LogMode          string

	BankCSV     string
	OutCSV      string
	ModelsDir   string
	NFolds      int
	RandomState int64
	WriteDB     bool
	CreateView  bool

	ResamplingThreshold float64
	WeightedThreshold   float64
	CBIterations        int
	CBLearningRate      float64
	CBDepth             int
	CBL2LeafReg         float64
	CBEarlyStopping     int
	SmoteRatio          float64
	SmoteK              int

	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OpenAIModel    string
	LLMTemperature float64
	LLMMaxTokens   int
	LLMSeed        int
	ChurnThHigh    float64
	ChurnThMed     float64
}

// LoadConfig reads .env when present, then the process environment. Values
// that fail to parse are reported together.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	p := &parser{}
	sd := scoring.DefaultConfig()
	rd := recommend.DefaultThresholds()
	cfg := &Config{
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		DBDriver:         strings.ToLower(getEnv("DB_DRIVER", database.DriverMySQL)),
		DatabaseURL:      getEnv("DATABASE_URL", "root:password@tcp(localhost:3306)/churn_insight?charset=utf8mb4&parseTime=True&loc=Local"),
		ReadDatabaseURLs: splitList(getEnv("READ_DATABASE_URLS", "")),
		ScoreTable:       getEnv("DB_TABLE", database.DefaultScoreTable),
		RedisURL:         getEnv("REDIS_URL", "localhost:6379"),
		CacheTTL:         p.parseDuration("CACHE_TTL", time.Hour),
		JWTSecret:        getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		JWTTTL:           p.parseDuration("JWT_TTL", 24*time.Hour),
		AdminKeyHash:     getEnv("ADMIN_KEY_HASH", ""),
		RateLimitPerHour: p.parseInt("RATE_LIMIT_PER_HOUR", 1000),
		EnableWebSocket:  p.parseBool("ENABLE_WEBSOCKET", true),
		LogMode:          getEnv("LOG_MODE", "prod"),

		BankCSV:     getEnv("BANK_CSV", "assets/data/Customer-Churn-Records.csv"),
		OutCSV:      getEnv("OUT_CSV", sd.OutputCSV),
		ModelsDir:   getEnv("MODELS_DIR", sd.ModelsDir),
		NFolds:      p.parseInt("N_FOLDS", sd.Folds),
		RandomState: int64(p.parseInt("RANDOM_STATE", int(sd.Seed))),
		WriteDB:     p.parseBool("WRITE_DB", false),
		CreateView:  p.parseBool("CREATE_VIEW", false),

		ResamplingThreshold: p.parseFloat("RESAMPLING_THRESHOLD", sd.Thresholds.Resampling),
		WeightedThreshold:   p.parseFloat("WEIGHTED_THRESHOLD", sd.Thresholds.Weighted),
		CBIterations:        p.parseInt("CB_ITERATIONS", sd.Boosting.Iterations),
		CBLearningRate:      p.parseFloat("CB_LEARNING_RATE", sd.Boosting.LearningRate),
		CBDepth:             p.parseInt("CB_DEPTH", sd.Boosting.Depth),
		CBL2LeafReg:         p.parseFloat("CB_L2_LEAF_REG", sd.Boosting.L2LeafReg),
		CBEarlyStopping:     p.parseInt("CB_EARLY_STOPPING", sd.Boosting.EarlyStopping),
		SmoteRatio:          p.parseFloat("SMOTE_RATIO", sd.SMOTE.Ratio),
		SmoteK:              p.parseInt("SMOTE_K", sd.SMOTE.K),

		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", llm.DefaultBaseURL),
		OpenAIModel:    getEnv("OPENAI_MODEL", llm.DefaultModel),
		LLMTemperature: p.parseFloat("LLM_TEMPERATURE", 0.1),
		LLMMaxTokens:   p.parseInt("LLM_MAX_TOKENS", 600),
		LLMSeed:        p.parseInt("LLM_SEED", 42),
		ChurnThHigh:    p.parseFloat("CHURN_TH_HIGH", rd.High),
		ChurnThMed:     p.parseFloat("CHURN_TH_MED", rd.Medium),
	}

	if cfg.DBDriver != database.DriverMySQL && cfg.DBDriver != database.DriverSQLite {
		p.errs = append(p.errs, fmt.Errorf("DB_DRIVER %q must be mysql or sqlite", cfg.DBDriver))
	}
	if cfg.ChurnThMed > cfg.ChurnThHigh {
		p.errs = append(p.errs, fmt.Errorf("CHURN_TH_MED %v is above CHURN_TH_HIGH %v", cfg.ChurnThMed, cfg.ChurnThHigh))
	}
	if err := cfg.Scoring().Validate(); err != nil {
		p.errs = append(p.errs, err)
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Scoring builds the explicit pipeline settings.
func (c *Config) Scoring() scoring.Config {
	s := scoring.DefaultConfig()
	s.Folds = c.NFolds
	s.Seed = c.RandomState
	s.Thresholds = scoring.Thresholds{Resampling: c.ResamplingThreshold, Weighted: c.WeightedThreshold}
	s.Boosting.Iterations = c.CBIterations
	s.Boosting.LearningRate = c.CBLearningRate
	s.Boosting.Depth = c.CBDepth
	s.Boosting.L2LeafReg = c.CBL2LeafReg
	s.Boosting.EarlyStopping = c.CBEarlyStopping
	s.SMOTE.Ratio = c.SmoteRatio
	s.SMOTE.K = c.SmoteK
	s.OutputCSV = c.OutCSV
	s.ModelsDir = c.ModelsDir
	s.WriteDB = c.WriteDB
	s.CreateView = c.CreateView
	return s
}

func (c *Config) Database() database.Options {
	return database.Options{
		Driver:     c.DBDriver,
		URL:        c.DatabaseURL,
		ReadURLs:   c.ReadDatabaseURLs,
		ScoreTable: c.ScoreTable,
		LogSQL:     c.LogMode == "dev",
	}
}

func (c *Config) RiskThresholds() recommend.Thresholds {
	return recommend.Thresholds{High: c.ChurnThHigh, Medium: c.ChurnThMed}
}

func (c *Config) LLMClient() *llm.Client {
	return llm.NewClient(
		llm.WithAPIKey(c.OpenAIAPIKey),
		llm.WithBaseURL(c.OpenAIBaseURL),
		llm.WithModel(c.OpenAIModel),
		llm.WithSampling(c.LLMTemperature, c.LLMMaxTokens, c.LLMSeed),
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

// parser reads typed env values and remembers every malformed one.
type parser struct {
	errs []error
}

func (p *parser) fail(key, value string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (p *parser) parseInt(key string, def int) int {
	s := getEnv(key, "")
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		p.fail(key, s, err)
		return def
	}
	return i
}

func (p *parser) parseFloat(key string, def float64) float64 {
	s := getEnv(key, "")
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail(key, s, err)
		return def
	}
	return f
}

func (p *parser) parseBool(key string, def bool) bool {
	s := getEnv(key, "")
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		p.fail(key, s, err)
		return def
	}
	return b
}

func (p *parser) parseDuration(key string, def time.Duration) time.Duration {
	s := getEnv(key, "")
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		p.fail(key, s, err)
		return def
	}
	return d
}
