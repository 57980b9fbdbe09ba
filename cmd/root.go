package cmd

import (
	"errors"
	"io/fs"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/network-scout/internal/archive"
	"github.com/spigell/network-scout/internal/batch"
	"github.com/spigell/network-scout/internal/conversation"
	"github.com/spigell/network-scout/internal/github"
	"github.com/spigell/network-scout/internal/httpapi"
	"github.com/spigell/network-scout/internal/notify"
	"github.com/spigell/network-scout/internal/referral"
	"github.com/spigell/network-scout/internal/store"
	"github.com/spigell/network-scout/internal/telegram"
	"github.com/spigell/network-scout/internal/twitter"
)

const (
	app       = "network-scout"
	envPrefix = "SCOUT"
)

type Config struct {
	Storage      StorageConfig       `mapstructure:"storage"`
	LLM          LLMConfig           `mapstructure:"llm"`
	PromptsFile  string              `mapstructure:"prompts-file"`
	Telegram     telegram.Config     `mapstructure:"telegram"`
	X            twitter.Config      `mapstructure:"x"`
	Github       github.Config       `mapstructure:"github"`
	Batch        batch.Config        `mapstructure:"batch"`
	Conversation conversation.Config `mapstructure:"conversation"`
	Referral     referral.Config     `mapstructure:"referral"`
	Extract      ExtractConfig       `mapstructure:"extract"`
	Mail         notify.Config       `mapstructure:"mail"`
	HTTP         httpapi.Config      `mapstructure:"http"`
}

type StorageConfig struct {
	// Driver is "mongo" (MongoDB + Redis) or "memory" for local experiments.
	Driver string              `mapstructure:"driver"`
	Mongo  store.MongoConfig   `mapstructure:"mongo"`
	Redis  archive.RedisConfig `mapstructure:"redis"`
}

type LLMConfig struct {
	Provider     string       `mapstructure:"provider"`
	MaxLogLength int          `mapstructure:"max-log-length"`
	Gemini       GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey     string `mapstructure:"api-key"`
	APIKeyFile string `mapstructure:"api-key-file"`
	Model      string `mapstructure:"model"`
	MaxRetries int    `mapstructure:"max-retries"`
}

type ExtractConfig struct {
	MinConfidence float64 `mapstructure:"min-confidence"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "network-scout talks to developers on Telegram and X, learns their profile and matches them to jobs",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is network-scout.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	setDefaults()
}

func setDefaults() {
	viper.SetDefault("storage.driver", "mongo")
	viper.SetDefault("storage.mongo.uri", "mongodb://localhost:27017")
	viper.SetDefault("storage.mongo.database", "network_scout")
	viper.SetDefault("storage.redis.addr", "localhost:6379")
	viper.SetDefault("storage.redis.prefix", app)

	viper.SetDefault("llm.provider", "gemini")
	viper.SetDefault("llm.gemini.model", "gemini-2.5-flash")
	viper.SetDefault("llm.gemini.max-retries", 3)

	// Empty defaults make the secret keys visible to SCOUT_* overrides.
	for _, key := range []string{
		"llm.gemini.api-key", "llm.gemini.api-key-file",
		"telegram.token", "telegram.token-file",
		"x.token", "x.token-file",
		"github.token", "github.token-file",
		"mail.password",
	} {
		viper.SetDefault(key, "")
	}
	viper.SetDefault("x.enabled", false)

	viper.SetDefault("referral.permanent-code", "")
	viper.SetDefault("conversation.skip-inquiry", true)
	viper.SetDefault("conversation.min-skills", 7)
	viper.SetDefault("extract.min-confidence", 0.5)

	viper.SetDefault("batch.interval", "10m")
	viper.SetDefault("batch.gather-interval", "24h")

	viper.SetDefault("http.addr", ":8080")
	viper.SetDefault("http.allowed-origins", []string{"*"})
}

func initConfig() {
	// A missing .env is fine; a broken one is not.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// Without an explicit --config, defaults and SCOUT_* variables are enough.
		if cfgFile == "" && errors.As(err, &notFound) {
			return
		}
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	if config.Batch.MinSkills <= 0 {
		config.Batch.MinSkills = config.Conversation.MinSkills
	}

	return config, nil
}
