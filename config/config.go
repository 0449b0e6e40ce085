// Package config loads the application configuration. Precedence: built-in
// defaults, then the YAML file, then MEMBENCH_-prefixed environment
// variables.
package config

import (
	"time"

	"github.com/BaSui01/membench/internal/telemetry"
	"github.com/BaSui01/membench/types"
)

// Config is the full application configuration.
type Config struct {
	// StateDir is where run checkpoints and results live.
	StateDir string `yaml:"state_dir" env:"STATE_DIR"`

	LLM         LLMConfig         `yaml:"llm" env:"LLM"`
	Redis       RedisConfig       `yaml:"redis" env:"REDIS"`
	Benchmark   BenchmarkConfig   `yaml:"benchmark" env:"BENCHMARK"`
	Pipeline    PipelineConfig    `yaml:"pipeline" env:"PIPELINE"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard" env:"LEADERBOARD"`

	Log telemetry.LogConfig `yaml:"log" env:"LOG"`
}

// LLMConfig configures the OpenAI-compatible chat client shared by the
// answering model, the judge and the relevance grader.
type LLMConfig struct {
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	APIKey  string `yaml:"api_key" env:"API_KEY"`
	// AnswerModel produces hypotheses; JudgeModel grades them.
	AnswerModel string        `yaml:"answer_model" env:"ANSWER_MODEL"`
	JudgeModel  string        `yaml:"judge_model" env:"JUDGE_MODEL"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// RequestsPerSecond caps client-side request rate; 0 disables.
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
}

// RedisConfig configures the redisstore baseline provider.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// BenchmarkConfig points at the dataset files.
type BenchmarkConfig struct {
	// Path is the JSON dataset file loaded by the jsonfile benchmark.
	Path string `yaml:"path" env:"PATH"`
}

// PipelineConfig tunes run execution.
type PipelineConfig struct {
	// SearchLimit caps results per search; 0 means provider default.
	SearchLimit int `yaml:"search_limit" env:"SEARCH_LIMIT"`
	// TokenBudget bounds retrieved context in the answer prompt; 0
	// disables truncation.
	TokenBudget int `yaml:"token_budget" env:"TOKEN_BUDGET"`
	// TokenizerModel picks the tiktoken encoding used for the budget.
	TokenizerModel string `yaml:"tokenizer_model" env:"TOKENIZER_MODEL"`
}

// LeaderboardConfig configures the local results database.
type LeaderboardConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		StateDir: ".membench",
		LLM: LLMConfig{
			BaseURL:           "https://api.openai.com",
			AnswerModel:       "gpt-4o-mini",
			JudgeModel:        "gpt-4o-mini",
			Timeout:           60 * time.Second,
			RequestsPerSecond: 5,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Pipeline: PipelineConfig{
			SearchLimit:    10,
			TokenBudget:    4000,
			TokenizerModel: "gpt-4o-mini",
		},
		Leaderboard: LeaderboardConfig{
			Path: ".membench/leaderboard.db",
		},
		Log: telemetry.DefaultLogConfig(),
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if c.StateDir == "" {
		return types.NewError(types.ErrInvalidConfig, "state_dir is required")
	}
	if c.LLM.BaseURL == "" {
		return types.NewError(types.ErrInvalidConfig, "llm.base_url is required")
	}
	if c.Pipeline.SearchLimit < 0 {
		return types.NewError(types.ErrInvalidConfig, "pipeline.search_limit cannot be negative")
	}
	if c.Pipeline.TokenBudget < 0 {
		return types.NewError(types.ErrInvalidConfig, "pipeline.token_budget cannot be negative")
	}
	return nil
}
