package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"gpt3bot/handler"
	"gpt3bot/internal/config"
	"gpt3bot/internal/integrations/discord"
	"gpt3bot/internal/integrations/openai"
	"gpt3bot/internal/integrations/paramstore"
	"gpt3bot/internal/queue"
	"gpt3bot/internal/repository"
	"gpt3bot/internal/settings"
	"gpt3bot/internal/usage"
	"gpt3bot/internal/usecase"
	"gpt3bot/internal/worker"
)

// stateStore is satisfied by both the DynamoDB and the in-memory store.
type stateStore interface {
	usecase.StateStore
	usage.Store
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:          "gpt3bot",
		Short:        "Discord bot for the OpenAI completion API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgFile, _ := cmd.Flags().GetString("config")
			if err := config.Init(v, cfgFile); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg.Logging, nil)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := run(ctx, cfg, logger); err != nil {
				logger.Error("bot_stopped", "error", err.Error())
				return err
			}
			logger.Info("bot_stopped")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "Config file path (optional).")
	flags.String("log-level", "", "Logging level: debug|info|warn|error.")
	flags.String("log-format", "", "Logging format: text|json.")
	flags.Bool("log-add-source", false, "Include source file:line in logs.")
	flags.String("param-prefix", "", "SSM parameter prefix holding the discord and OpenAI tokens.")
	flags.String("state-table", "", "DynamoDB table for bot state; in-memory when empty.")
	flags.String("persona-file", "", "Plain-text persona preamble for conversations.")
	flags.String("cooldown-policy", "", "What to do with requests inside the cooldown: warn|reject.")

	_ = v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("logging.format", flags.Lookup("log-format"))
	_ = v.BindPFlag("logging.add_source", flags.Lookup("log-add-source"))
	_ = v.BindPFlag("aws.param_prefix", flags.Lookup("param-prefix"))
	_ = v.BindPFlag("aws.state_table", flags.Lookup("state-table"))
	_ = v.BindPFlag("bot.persona_file", flags.Lookup("persona-file"))
	_ = v.BindPFlag("bot.cooldown_policy", flags.Lookup("cooldown-policy"))

	return cmd
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// ---- AWS clients (only when configured) ----
	var (
		ps    *paramstore.Client
		store stateStore
	)
	if cfg.AWS.ParamPrefix != "" || cfg.AWS.StateTable != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		if ps, store, err = awsClients(awsCfg, cfg.AWS); err != nil {
			return err
		}
	}
	if store == nil {
		logger.Warn("state_in_memory", "reason", "aws.state_table is not set")
		store = repository.NewMemoryStore()
	}

	token := cfg.Discord.Token
	if token == "" {
		t, err := ps.Token(ctx, paramstore.DiscordTokenKey)
		if err != nil {
			return fmt.Errorf("read discord token: %w", err)
		}
		token = t
	}

	// ---- Completion service ----
	modelSettings := settings.New(settings.Defaults())
	usageSvc, err := usage.NewService(store)
	if err != nil {
		return err
	}
	openaiOpts := []openai.Option{openai.WithLogger(logger), openai.WithUsageRecorder(usageSvc)}
	if cfg.OpenAI.APIKey != "" {
		openaiOpts = append(openaiOpts, openai.WithAPIKey(cfg.OpenAI.APIKey))
	}
	if cfg.OpenAI.BaseURL != "" {
		openaiOpts = append(openaiOpts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	var tokens openai.TokenSource
	if ps != nil {
		tokens = ps
	}
	openaiClient, err := openai.NewClient(tokens, modelSettings, openaiOpts...)
	if err != nil {
		return err
	}

	// ---- Discord ----
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	discordClient, err := discord.New(session, logger)
	if err != nil {
		return err
	}

	// ---- Queues, bot and workers ----
	debugQueue, err := queue.NewMessageQueue(discordClient.Sender(), queue.MessageQueueOptions{Logger: logger})
	if err != nil {
		return err
	}
	deletions := queue.NewDeletionQueue(queue.DeletionQueueOptions{Logger: logger})

	policy, err := usecase.ParseCooldownPolicy(cfg.Bot.CooldownPolicy)
	if err != nil {
		return err
	}
	bot, err := usecase.NewBot(store, openaiClient, discordClient, modelSettings, usageSvc, debugQueue, usecase.Options{
		Persona:        usecase.LoadPersona(cfg.Bot.PersonaFile, logger),
		CommandPrefix:  cfg.Bot.CommandPrefix,
		TextCutoff:     cfg.Bot.TextCutoff,
		Cooldown:       cfg.Bot.Cooldown,
		CooldownPolicy: policy,
		DebugChannelID: cfg.Discord.DebugChannel,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	workers, err := worker.NewKeyed(ctx, cfg.Bot.Workers, 0, bot.HandleJob)
	if err != nil {
		return err
	}
	defer workers.Close()
	h, err := handler.NewHandler(ctx, handler.Dependencies{
		Jobs:         workers,
		Resolver:     discordClient,
		Interactions: discordClient,
		Deletions:    deletions,
		Self:         bot,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	h.Register(session)

	// ---- Run ----
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return debugQueue.Run(gctx) })
	g.Go(func() error { return deletions.Run(gctx) })
	g.Go(func() error {
		if err := session.Open(); err != nil {
			return fmt.Errorf("open discord gateway: %w", err)
		}
		logger.Info("bot_started", "state_table", cfg.AWS.StateTable, "cooldown_policy", string(policy))
		checkDebugChannel(session, cfg.Discord, logger)

		<-gctx.Done()
		return session.Close()
	})
	return g.Wait()
}

func awsClients(awsCfg aws.Config, c config.AWS) (*paramstore.Client, stateStore, error) {
	var (
		ps    *paramstore.Client
		store stateStore
		err   error
	)
	if c.ParamPrefix != "" {
		ps, err = paramstore.New(awsssm.NewFromConfig(awsCfg), c.ParamPrefix)
		if err != nil {
			return nil, nil, err
		}
	}
	if c.StateTable != "" {
		store, err = repository.New(awsdynamodb.NewFromConfig(awsCfg), c.StateTable)
		if err != nil {
			return nil, nil, err
		}
	}
	return ps, store, nil
}

// checkDebugChannel warns when the configured debug channel cannot be seen
// by the bot or lives outside the configured debug guild.
func checkDebugChannel(s *discordgo.Session, c config.Discord, logger *slog.Logger) {
	if c.DebugChannel == "" {
		logger.Info("debug_channel_disabled")
		return
	}
	ch, err := s.Channel(c.DebugChannel)
	if err != nil {
		logger.Warn("debug_channel_unresolved", "channel_id", c.DebugChannel, "error", err.Error())
		return
	}
	if c.DebugGuild != "" && ch.GuildID != c.DebugGuild {
		logger.Warn("debug_channel_guild_mismatch", "channel_id", c.DebugChannel, "guild_id", ch.GuildID, "want_guild_id", c.DebugGuild)
	}
}
