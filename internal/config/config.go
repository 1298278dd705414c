package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DefaultProvider string `env:"DEFAULT_PROVIDER" envDefault:"openai"`
	QuestionModel   string `env:"QUESTION_MODEL" envDefault:"llama-3.3-70b-versatile"`
	RankingModel    string `env:"RANKING_MODEL" envDefault:"llama-3.3-70b-versatile"`
	PlayerModel     string `env:"PLAYER_MODEL" envDefault:"llama-3.1-8b-instant"`
	SystemPrompt    string `env:"SYSTEM_PROMPT"`
	OpenAIKey       string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string `env:"OPENAI_BASE_URL"`
	OllamaHost      string `env:"OLLAMA_HOST" envDefault:"http://localhost:11434"`
	QuestionBank    string `env:"QUESTION_BANK"`

	MinContestants      int           `env:"MIN_CONTESTANTS" envDefault:"2"`
	AnswerWindowSeconds int           `env:"ANSWER_WINDOW_SECONDS" envDefault:"30"`
	RankAttempts        int           `env:"RANK_ATTEMPTS" envDefault:"3"`
	RankBackoff         time.Duration `env:"RANK_BACKOFF" envDefault:"500ms"`
	OracleTimeout       time.Duration `env:"ORACLE_TIMEOUT" envDefault:"30s"`
	AllowLateJoin       bool          `env:"ALLOW_LATE_JOIN" envDefault:"false"`
	SingleSession       bool          `env:"SINGLE_SESSION" envDefault:"true"`

	GMUser string `env:"GM_USER"`
	GMPass string `env:"GM_PASS"`

	ExportEnabled bool   `env:"EXPORT_ENABLED" envDefault:"false"`
	ExportFile    string `env:"EXPORT_FILE" envDefault:"exports/games.txt"`

	NATSURL     string   `env:"NATS_URL"`
	NATSSubject string   `env:"NATS_SUBJECT" envDefault:"lastword"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// FromEnv loads an optional .env file and parses the environment into Config.
func FromEnv(files ...string) (Config, error) {
	// a missing .env is fine; variables may come from the real environment
	_ = godotenv.Load(files...)

	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	switch c.DefaultProvider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unknown DEFAULT_PROVIDER %q", c.DefaultProvider)
	}
	if c.MinContestants < 2 {
		return fmt.Errorf("MIN_CONTESTANTS must be at least 2, got %d", c.MinContestants)
	}
	if c.AnswerWindowSeconds < 1 {
		return fmt.Errorf("ANSWER_WINDOW_SECONDS must be positive, got %d", c.AnswerWindowSeconds)
	}
	if c.RankAttempts < 1 {
		return fmt.Errorf("RANK_ATTEMPTS must be at least 1, got %d", c.RankAttempts)
	}
	return nil
}

func (c Config) OperatorAuth() bool { return c.GMUser != "" && c.GMPass != "" }
