// Package app assembles the webhook handler from configuration. Both the
// Lambda entrypoint and the local server build through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"tire-assistant/handler"
	"tire-assistant/internal/config"
	"tire-assistant/internal/delivery"
	"tire-assistant/internal/integrations/messenger"
	"tire-assistant/internal/integrations/openai"
	"tire-assistant/internal/integrations/openaitools"
	"tire-assistant/internal/integrations/paramstore"
	"tire-assistant/internal/inventory"
	"tire-assistant/internal/repository"
	"tire-assistant/internal/usecase"
)

// Store is everything the assembled service needs from a backend.
type Store interface {
	usecase.Store
	inventory.Store
	Seeder
}

type App struct {
	Handler *handler.Handler
	Store   Store
	closers []func()
}

// Close releases backend resources.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{}

	var (
		awsCfg    aws.Config
		awsLoaded bool
	)
	loadAWS := func() error {
		if awsLoaded {
			return nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("app: load AWS config: %w", err)
		}
		awsCfg, awsLoaded = c, true
		return nil
	}

	// ---- Secrets ----
	var params paramstore.Getter
	if cfg.UsesSSM() {
		if err := loadAWS(); err != nil {
			return nil, err
		}
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, fmt.Errorf("app: create SSM client: %w", err)
		}
		params = paramstore.NewCached(ssmClient)
	} else {
		params = cfg.EnvSecrets()
	}
	prefix := cfg.SecretPrefix()

	// ---- Store ----
	switch cfg.StoreBackend {
	case config.StoreDynamo:
		if err := loadAWS(); err != nil {
			return nil, err
		}
		store, err := repository.NewDynamo(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
		if err != nil {
			return nil, fmt.Errorf("app: create dynamodb store: %w", err)
		}
		a.Store = store
	case config.StorePostgres:
		store, err := repository.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("app: create postgres store: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("app: migrate postgres store: %w", err)
		}
		a.Store = store
		a.closers = append(a.closers, store.Close)
	default:
		a.Store = repository.NewMemory()
	}

	// ---- LLM ----
	textClient, err := openai.NewClient(params, prefix,
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithModel(cfg.OpenAIModel),
		openai.WithTemperature(cfg.OpenAITemperature),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.LLMTimeout}),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: create OpenAI client: %w", err)
	}
	var llm usecase.LLMClient = textClient
	if cfg.LLMMode == config.LLMModeTools {
		toolsClient, err := openaitools.NewClient(func(ctx context.Context) (string, error) {
			return paramstore.Token(ctx, params, paramstore.Name(prefix, paramstore.OpenAIToken))
		}, openaitools.Config{
			Model:       cfg.OpenAIModel,
			Temperature: cfg.OpenAITemperature,
			BaseURL:     cfg.OpenAIBaseURL,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: create OpenAI tools client: %w", err)
		}
		llm = toolsClient
	}

	// ---- Delivery ----
	sender, err := messenger.NewClient(func(ctx context.Context) (string, error) {
		return paramstore.Token(ctx, params, paramstore.Name(prefix, paramstore.PageToken))
	}, messenger.WithBaseURL(cfg.GraphAPIBaseURL), messenger.WithTimeout(cfg.SendTimeout))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: create messenger client: %w", err)
	}
	pacer, err := delivery.NewPacer(sender, delivery.Config{
		PerChar:         cfg.TypingDelayPerChar,
		Cap:             cfg.TypingDelayCap,
		RefreshInterval: cfg.TypingRefreshInterval,
		SendTimeout:     cfg.SendTimeout,
		SplitBubbles:    cfg.SplitBubbles,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: create pacer: %w", err)
	}

	// ---- Orchestration ----
	persona, err := usecase.LoadPersona(cfg.PromptPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	opts := usecase.Options{
		Persona:            persona,
		HistoryLimit:       cfg.HistoryLimit,
		LLMTimeout:         cfg.LLMTimeout,
		FallbackCustomerID: cfg.FallbackCustomerID,
		CloseOnEndSentinel: cfg.CloseOnEndSentinel,
		DeclareTools:       cfg.LLMMode == config.LLMModeTools,
		LeaseTTL:           cfg.LeaseTTL,
		LeaseWait:          cfg.LeaseWait,
	}
	if cfg.ModerationEnabled {
		opts.Moderator = textClient
	}
	replies, err := usecase.NewReplyService(a.Store, llm, inventory.NewResolver(a.Store), pacer, opts)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: create reply service: %w", err)
	}

	h, err := handler.NewHandler(replies, params, paramstore.Name(prefix, paramstore.VerifyToken), handler.WithLogger(logger))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: create handler: %w", err)
	}
	a.Handler = h

	logger.Info("app assembled",
		"store", cfg.StoreBackend,
		"llmMode", cfg.LLMMode,
		"model", cfg.OpenAIModel,
		"ssm", cfg.UsesSSM(),
	)
	return a, nil
}
