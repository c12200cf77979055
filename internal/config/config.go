// Package config reads the bot's configuration from flags, environment
// variables (prefixed GPT3BOT_) and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "GPT3BOT"

type Discord struct {
	Token        string
	DebugGuild   string
	DebugChannel string
}

type OpenAI struct {
	APIKey  string
	BaseURL string
}

type AWS struct {
	ParamPrefix string
	StateTable  string
}

type Bot struct {
	PersonaFile    string
	Cooldown       time.Duration
	CooldownPolicy string
	TextCutoff     int
	CommandPrefix  string
	Workers        int
}

type Logging struct {
	Level     string
	Format    string
	AddSource bool
}

type Config struct {
	Discord Discord
	OpenAI  OpenAI
	AWS     AWS
	Bot     Bot
	Logging Logging
}

// SetDefaults registers every key so that environment variables are picked
// up for it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.debug_guild", "")
	v.SetDefault("discord.debug_channel", "")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("aws.param_prefix", "")
	v.SetDefault("aws.state_table", "")
	v.SetDefault("bot.persona_file", "")
	v.SetDefault("bot.cooldown", time.Second)
	v.SetDefault("bot.cooldown_policy", "reject")
	v.SetDefault("bot.text_cutoff", 1900)
	v.SetDefault("bot.command_prefix", "!g")
	v.SetDefault("bot.workers", 8)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
}

// Init wires environment lookup and reads cfgFile when it is set.
func Init(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	cfgFile = strings.TrimSpace(cfgFile)
	if cfgFile == "" {
		return nil
	}
	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", cfgFile, err)
	}
	return nil
}

// Load snapshots v into a Config and checks that the secrets can be found.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Discord: Discord{
			Token:        strings.TrimSpace(v.GetString("discord.token")),
			DebugGuild:   v.GetString("discord.debug_guild"),
			DebugChannel: v.GetString("discord.debug_channel"),
		},
		OpenAI: OpenAI{
			APIKey:  strings.TrimSpace(v.GetString("openai.api_key")),
			BaseURL: v.GetString("openai.base_url"),
		},
		AWS: AWS{
			ParamPrefix: strings.TrimRight(v.GetString("aws.param_prefix"), "/"),
			StateTable:  v.GetString("aws.state_table"),
		},
		Bot: Bot{
			PersonaFile:    v.GetString("bot.persona_file"),
			Cooldown:       v.GetDuration("bot.cooldown"),
			CooldownPolicy: v.GetString("bot.cooldown_policy"),
			TextCutoff:     v.GetInt("bot.text_cutoff"),
			CommandPrefix:  v.GetString("bot.command_prefix"),
			Workers:        v.GetInt("bot.workers"),
		},
		Logging: Logging{
			Level:     v.GetString("logging.level"),
			Format:    v.GetString("logging.format"),
			AddSource: v.GetBool("logging.add_source"),
		},
	}

	if cfg.AWS.ParamPrefix == "" {
		if cfg.Discord.Token == "" {
			return Config{}, errors.New("config: discord.token is required when aws.param_prefix is not set")
		}
		if cfg.OpenAI.APIKey == "" {
			return Config{}, errors.New("config: openai.api_key is required when aws.param_prefix is not set")
		}
	}
	if cfg.Bot.TextCutoff <= 0 {
		return Config{}, fmt.Errorf("config: bot.text_cutoff must be positive, got %d", cfg.Bot.TextCutoff)
	}
	if strings.TrimSpace(cfg.Bot.CommandPrefix) == "" {
		return Config{}, errors.New("config: bot.command_prefix must not be empty")
	}
	return cfg, nil
}
