package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Minio    MinioConfig    `yaml:"minio"`
	Mineru   MineruConfig   `yaml:"mineru"`
	Auth     AuthConfig     `yaml:"auth"`
	Users    []User         `yaml:"users"`
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	LLM      LLMConfig      `yaml:"llm"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Sheets   SheetsConfig   `yaml:"sheets"`
	History  HistoryConfig  `yaml:"history"`
	Cache    CacheConfig    `yaml:"cache"`
	UI       UIConfig       `yaml:"ui"`
}

type ServerConfig struct {
	Port           int   `yaml:"port"`
	RateLimit      int   `yaml:"rate_limit"` // requests per minute per client IP
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

// Enabled reports whether object storage is configured.
func (m MinioConfig) Enabled() bool {
	return m.Endpoint != ""
}

type MineruConfig struct {
	APIURL       string `yaml:"api_url"`
	APIToken     string `yaml:"api_token"`
	ModelVersion string `yaml:"model_version"`
	CallbackURL  string `yaml:"callback_url"`
	Seed         string `yaml:"seed"`
	UID          string `yaml:"uid"`
	PollInterval int    `yaml:"poll_interval_seconds"`
	PollAttempts int    `yaml:"poll_attempts"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

// User is a configured account. Password may be plain text or a bcrypt hash.
type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Tenant   string `yaml:"tenant"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StoreConfig struct {
	MaxContracts int `yaml:"max_contracts"` // analysed documents kept in memory, 0 = unlimited
	MaxSessions  int `yaml:"max_sessions"`  // workspace sessions kept, 0 = unlimited
}

type LLMConfig struct {
	GroqAPIKey    string   `yaml:"groq_api_key"`
	GroqBaseURL   string   `yaml:"groq_base_url"`
	GroqModel     string   `yaml:"groq_model"`
	GeminiAPIKey  string   `yaml:"gemini_api_key"`
	GeminiModel   string   `yaml:"gemini_model"`
	GeminiBackup  string   `yaml:"gemini_backup_model"`
	Chain         string   `yaml:"chain"` // standard, quality, speed, gemini-only
	GroqTimeout   int      `yaml:"groq_timeout_seconds"`
	GeminiTimeout int      `yaml:"gemini_timeout_seconds"`
	MaxRetries    *int     `yaml:"max_retries"` // nil means 1; 0 disables retries
	Temperature   *float64 `yaml:"temperature"` // nil means 0.1
	MaxTokens     int      `yaml:"max_tokens"`
	MaxWorkers    int      `yaml:"max_workers"`
}

type AnalysisConfig struct {
	LLMMaxTokens   int `yaml:"llm_max_tokens"`
	BatchPauseSecs int `yaml:"batch_pause_seconds"`
}

type SheetsConfig struct {
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Enabled reports whether Google Sheets export is configured.
func (s SheetsConfig) Enabled() bool {
	return s.SpreadsheetID != "" && s.CredentialsFile != ""
}

type HistoryConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres
	DSN    string `yaml:"dsn"`
}

type CacheConfig struct {
	RedisAddr  string `yaml:"redis_addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLMinutes int    `yaml:"ttl_minutes"`
}

// UIConfig holds the palette passed to every workspace view.
type UIConfig struct {
	Title   string  `yaml:"title"`
	Palette Palette `yaml:"palette"`
}

type Palette struct {
	Primary    string `yaml:"primary"`
	Secondary  string `yaml:"secondary"`
	Background string `yaml:"background"`
	Surface    string `yaml:"surface"`
	Text       string `yaml:"text"`
	Accent     string `yaml:"accent"`
	Danger     string `yaml:"danger"`
}

var GlobalConfig *Config

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	GlobalConfig = &cfg
	return &cfg, nil
}

// Default returns a configuration with every default applied and no file behind it.
func Default() *Config {
	var cfg Config
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&c.LLM.GroqAPIKey, "GROQ_API_KEY")
	setString(&c.LLM.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&c.Sheets.SpreadsheetID, "SHEET_ID")
	setString(&c.Sheets.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	setString(&c.Cache.RedisAddr, "REDIS_ADDR")
	setString(&c.History.DSN, "DB_URL")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")

	if v := os.Getenv("LLM_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Analysis.LLMMaxTokens = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 100
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 32 << 20
	}
	if c.Minio.ExpireDays == 0 {
		c.Minio.ExpireDays = 7
	}
	if c.Auth.TokenExpireHours == 0 {
		c.Auth.TokenExpireHours = 24
	}
	if c.Mineru.ModelVersion == "" {
		c.Mineru.ModelVersion = "vlm"
	}
	if c.Mineru.PollInterval == 0 {
		c.Mineru.PollInterval = 5
	}
	if c.Mineru.PollAttempts == 0 {
		c.Mineru.PollAttempts = 60
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Store.MaxContracts == 0 {
		c.Store.MaxContracts = 100
	}
	if c.Store.MaxSessions == 0 {
		c.Store.MaxSessions = 1000
	}

	l := &c.LLM
	if l.GroqBaseURL == "" {
		l.GroqBaseURL = "https://api.groq.com/openai/v1"
	}
	if l.GroqModel == "" {
		l.GroqModel = "llama-3.3-70b-versatile"
	}
	if l.GeminiModel == "" {
		l.GeminiModel = "gemini-2.5-flash"
	}
	if l.GeminiBackup == "" {
		l.GeminiBackup = "gemini-2.0-flash-exp"
	}
	if l.Chain == "" {
		l.Chain = "standard"
	}
	if l.GroqTimeout == 0 {
		l.GroqTimeout = 30
	}
	if l.GeminiTimeout == 0 {
		l.GeminiTimeout = 45
	}
	if l.MaxRetries == nil {
		retries := 1
		l.MaxRetries = &retries
	}
	if l.Temperature == nil {
		temperature := 0.1
		l.Temperature = &temperature
	}
	if l.MaxTokens == 0 {
		l.MaxTokens = 4000
	}
	if l.MaxWorkers == 0 {
		l.MaxWorkers = 3
	}

	if c.Analysis.LLMMaxTokens == 0 {
		c.Analysis.LLMMaxTokens = 6000
	}
	if c.Analysis.BatchPauseSecs == 0 {
		c.Analysis.BatchPauseSecs = 2
	}

	if c.History.Driver == "" {
		c.History.Driver = "sqlite"
	}
	if c.History.DSN == "" && c.History.Driver == "sqlite" {
		c.History.DSN = "contract_history.db"
	}
	if c.Cache.TTLMinutes == 0 {
		c.Cache.TTLMinutes = 60
	}

	if c.UI.Title == "" {
		c.UI.Title = "Contract Compliance Checker"
	}
	p := &c.UI.Palette
	if p.Primary == "" {
		p.Primary = "#667eea"
	}
	if p.Secondary == "" {
		p.Secondary = "#764ba2"
	}
	if p.Background == "" {
		p.Background = "#0f2027"
	}
	if p.Surface == "" {
		p.Surface = "#203a43"
	}
	if p.Text == "" {
		p.Text = "#f5f5f5"
	}
	if p.Accent == "" {
		p.Accent = "#26a69a"
	}
	if p.Danger == "" {
		p.Danger = "#ff4757"
	}
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}
