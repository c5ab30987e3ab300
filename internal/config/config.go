package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Common contains parameters shared by every binary.
type Common struct {
	ElasticsearchAddr  string
	ElasticsearchIndex string
	CachePath          string
	VocabDir           string
	KafkaBrokers       []string
	KafkaTopic         string
}

// Sources describes upstream endpoints and the fetch/write tuning shared by harvest runs.
type Sources struct {
	TreatyURL       string
	TreatyQuery     string
	LiteratureURL   string
	LiteratureQuery string
	ElisPageSize    int

	DecisionURL      string
	DecisionNodeURL  string
	DecisionPageSize int
	DecisionDaysAgo  int

	CourtURL      string
	CourtPageSize int

	LegislationURL string
	MaxUnpackBytes int64

	ExtractorURL   string
	ExtractTimeout time.Duration

	RequestTimeout time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration
	RatePerSecond  float64

	BatchSize int
	MemoTTL   time.Duration
}

// Harvester configures the operator CLI.
type Harvester struct {
	Common
	Sources
}

// Intake configures the callback HTTP server.
type Intake struct {
	Common
	Sources
	BindAddr       string
	APIKey         string
	MaxUploadBytes int64
}

// Worker configures the periodic harvest daemon.
type Worker struct {
	Common
	Sources
	Interval   time.Duration
	Types      []string
	RunTimeout time.Duration
}

func loadCommon() Common {
	return Common{
		ElasticsearchAddr:  getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "ecolex"),
		CachePath:          getEnv("CACHE_DB_PATH", "data/document_text.db"),
		VocabDir:           getEnv("VOCAB_DIR", ""),
		KafkaBrokers:       splitAndTrim(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "ecolex_documents"),
	}
}

func loadSources() Sources {
	return Sources{
		TreatyURL:       getEnv("TREATY_URL", "http://www.ecolex.org/elis_isis3w.php"),
		TreatyQuery:     getEnv("TREATY_QUERY", "(DM>={year}-{month}-01) AND (DM<={year}-{month}-31)"),
		LiteratureURL:   getEnv("LITERATURE_URL", "http://www.ecolex.org/elis_isis3w.php"),
		LiteratureQuery: getEnv("LITERATURE_QUERY", "(DM>={year}-{month}-01) AND (DM<={year}-{month}-31)"),
		ElisPageSize:    getInt("ELIS_PAGE_SIZE", 20),

		DecisionURL:      getEnv("DECISION_URL", "https://www.informea.org/ws/decisions"),
		DecisionNodeURL:  getEnv("DECISION_NODE_URL", "https://www.informea.org/node"),
		DecisionPageSize: getInt("DECISION_PAGE_SIZE", 100),
		DecisionDaysAgo:  getInt("DECISION_DAYS_AGO", 0),

		CourtURL:      getEnv("COURT_URL", "https://leo.informea.org/ws/court_decisions"),
		CourtPageSize: getInt("COURT_PAGE_SIZE", 50),

		LegislationURL: getEnv("LEGISLATION_URL", ""),
		MaxUnpackBytes: int64(getInt("UNPACK_MAX_MB", 512)) << 20,

		ExtractorURL:   getEnv("EXTRACTOR_URL", "http://tika:9998/extract"),
		ExtractTimeout: getDuration("EXTRACT_TIMEOUT", "60s"),

		RequestTimeout: getDuration("REQUEST_TIMEOUT", "10s"),
		MaxAttempts:    getInt("FETCH_MAX_ATTEMPTS", 3),
		RetryBackoff:   getDuration("FETCH_RETRY_BACKOFF", "500ms"),
		RatePerSecond:  getFloat("FETCH_RATE_PER_SECOND", 5),

		BatchSize: getInt("HARVEST_BATCH_SIZE", 100),
		MemoTTL:   getDuration("MEMO_TTL", "1h"),
	}
}

func (s Sources) validate() error {
	if s.BatchSize <= 0 {
		return fmt.Errorf("HARVEST_BATCH_SIZE must be positive")
	}
	if s.MaxAttempts < 3 {
		return fmt.Errorf("FETCH_MAX_ATTEMPTS must be at least 3")
	}
	if s.ElisPageSize <= 0 || s.DecisionPageSize <= 0 || s.CourtPageSize <= 0 {
		return fmt.Errorf("page sizes must be positive")
	}
	if s.MaxUnpackBytes <= 0 {
		return fmt.Errorf("UNPACK_MAX_MB must be positive")
	}
	if s.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if s.RatePerSecond <= 0 {
		return fmt.Errorf("FETCH_RATE_PER_SECOND must be positive")
	}
	if s.DecisionDaysAgo < 0 {
		return fmt.Errorf("DECISION_DAYS_AGO cannot be negative")
	}
	return nil
}

func (c Common) validate() error {
	if c.ElasticsearchAddr == "" {
		return fmt.Errorf("ELASTICSEARCH_ADDR must be set")
	}
	if c.CachePath == "" {
		return fmt.Errorf("CACHE_DB_PATH must be set")
	}
	return nil
}

// LoadHarvester builds the CLI config from environment variables.
func LoadHarvester() (*Harvester, error) {
	c := &Harvester{Common: loadCommon(), Sources: loadSources()}
	if err := c.Common.validate(); err != nil {
		return nil, err
	}
	if err := c.Sources.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadIntake builds the intake server config from environment variables.
func LoadIntake() (*Intake, error) {
	c := &Intake{
		Common:         loadCommon(),
		Sources:        loadSources(),
		BindAddr:       getEnv("INTAKE_BIND_ADDR", "0.0.0.0:8080"),
		APIKey:         getEnv("INTAKE_API_KEY", ""),
		MaxUploadBytes: int64(getInt("INTAKE_MAX_UPLOAD_MB", 64)) << 20,
	}
	if err := c.Common.validate(); err != nil {
		return nil, err
	}
	if err := c.Sources.validate(); err != nil {
		return nil, err
	}
	if c.APIKey == "" {
		return nil, fmt.Errorf("INTAKE_API_KEY must be set")
	}
	if c.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("INTAKE_MAX_UPLOAD_MB must be positive")
	}
	return c, nil
}

// LoadWorker builds the periodic harvester config from environment variables.
func LoadWorker() (*Worker, error) {
	c := &Worker{
		Common:     loadCommon(),
		Sources:    loadSources(),
		Interval:   getDuration("WORKER_INTERVAL", "6h"),
		Types:      splitAndTrim(getEnv("WORKER_TYPES", "treaty,decision,court_decision,literature")),
		RunTimeout: getDuration("WORKER_RUN_TIMEOUT", "2h"),
	}
	if err := c.Common.validate(); err != nil {
		return nil, err
	}
	if err := c.Sources.validate(); err != nil {
		return nil, err
	}
	if c.Interval <= 0 {
		return nil, fmt.Errorf("WORKER_INTERVAL must be positive")
	}
	if len(c.Types) == 0 {
		return nil, fmt.Errorf("WORKER_TYPES must contain at least one type")
	}
	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
