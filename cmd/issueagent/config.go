/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chainguard.dev/issueagent/agents/metrics"
	"chainguard.dev/issueagent/agents/orchestrator"
	"chainguard.dev/issueagent/agents/provider"
	"chainguard.dev/issueagent/agents/provider/assistantsprovider"
	"chainguard.dev/issueagent/agents/provider/claudeprovider"
	"chainguard.dev/issueagent/agents/provider/googleprovider"
	"chainguard.dev/issueagent/agents/provider/openaiprovider"
	"chainguard.dev/issueagent/agents/provider/poll"
	"chainguard.dev/issueagent/agents/rundriver"
	"chainguard.dev/issueagent/reconcilers/githubreconciler"
	"chainguard.dev/issueagent/reconcilers/githubreconciler/issuereconciler"
	"chainguard.dev/issueagent/reconcilers/githubreconciler/repoclient"
	"chainguard.dev/issueagent/runregistry"
	"chainguard.dev/issueagent/runregistry/badgerstore"
	"chainguard.dev/issueagent/runregistry/sqlstore"
	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/chainguard-dev/clog"
	"github.com/go-playground/validator/v10"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/sethvargo/go-envconfig"
	"github.com/shurcooL/githubv4"
	"google.golang.org/genai"
)

type config struct {
	Port        int    `env:"PORT,default=8080"`
	MetricsPort int    `env:"METRICS_PORT,default=2112"`
	ProductID   string `env:"PRODUCT_ID,default=issueagent" validate:"required,excludesall=/"`

	WebhookSecret string  `env:"WEBHOOK_SECRET"`
	WebhookRPS    float64 `env:"WEBHOOK_RPS,default=10" validate:"gt=0"`

	// GitHub App credentials, or a personal access token as a fallback.
	GitHubAppID          int64  `env:"GITHUB_APP_ID"`
	GitHubPrivateKeyPath string `env:"GITHUB_PRIVATE_KEY_PATH" validate:"required_with=GitHubAppID"`
	GitHubToken          string `env:"GITHUB_TOKEN" validate:"required_without=GitHubAppID"`
	GitHubAPIURL         string `env:"GITHUB_API_URL" validate:"omitempty,url"`

	ModelProvider   string `env:"MODEL_PROVIDER,default=claude" validate:"oneof=claude openai gemini assistants"`
	Model           string `env:"MODEL"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	GeminiAPIKey    string `env:"GEMINI_API_KEY"`
	AssistantID     string `env:"ASSISTANT_ID"`

	PollInterval    time.Duration `env:"POLL_INTERVAL,default=500ms" validate:"gt=0"`
	PollMaxAttempts int           `env:"POLL_MAX_ATTEMPTS,default=240" validate:"gt=0"`
	PollBackoff     bool          `env:"POLL_BACKOFF,default=false"`

	RegistryBackend string        `env:"REGISTRY_BACKEND,default=badger" validate:"oneof=badger postgres sqlite"`
	RegistryDSN     string        `env:"REGISTRY_DSN"`
	BadgerPath      string        `env:"BADGER_PATH"`
	StaleAfter      time.Duration `env:"STALE_AFTER,default=1h" validate:"gte=0"`

	PolicyFile        string `env:"POLICY_FILE"`
	MaxConcurrentRuns int64  `env:"MAX_CONCURRENT_RUNS,default=4" validate:"gt=0"`
}

func loadConfig(ctx context.Context) (*config, error) {
	return loadConfigFrom(ctx, envconfig.OsLookuper())
}

func loadConfigFrom(ctx context.Context, l envconfig.Lookuper) (*config, error) {
	var cfg config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.ModelProvider {
	case "claude":
		if c.AnthropicAPIKey == "" {
			return errors.New("ANTHROPIC_API_KEY is required for the claude provider")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY is required for the openai provider")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required for the gemini provider")
		}
	case "assistants":
		if c.OpenAIAPIKey == "" || c.AssistantID == "" {
			return errors.New("OPENAI_API_KEY and ASSISTANT_ID are required for the assistants provider")
		}
	}
	if c.RegistryBackend != "badger" && c.RegistryDSN == "" {
		return fmt.Errorf("REGISTRY_DSN is required for the %s registry", c.RegistryBackend)
	}
	return nil
}

func (c *config) pollConfig() poll.Config {
	pc := poll.Config{Interval: c.PollInterval, MaxAttempts: c.PollMaxAttempts}
	if c.PollBackoff {
		pc.Backoff = poll.DefaultBackoff()
	}
	return pc
}

// openStore opens the configured run registry.
func (c *config) openStore(ctx context.Context) (runregistry.Store, error) {
	switch c.RegistryBackend {
	case "postgres", "sqlite":
		driver := sqlstore.Postgres
		if c.RegistryBackend == "sqlite" {
			driver = sqlstore.SQLite
		}
		s, err := sqlstore.Open(ctx, driver, c.RegistryDSN, sqlstore.WithStaleAfter(c.StaleAfter))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := badgerstore.Open(ctx, c.BadgerPath, badgerstore.WithStaleAfter(c.StaleAfter))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// clientFactory authenticates as the GitHub App, or with the token when no
// App is configured.
func (c *config) clientFactory() (*githubreconciler.ClientFactory, error) {
	var opts []githubreconciler.ClientOption
	if c.GitHubAPIURL != "" {
		opts = append(opts, githubreconciler.WithBaseURL(c.GitHubAPIURL))
	}
	if c.GitHubAppID != 0 {
		return githubreconciler.NewAppClientFactory(c.GitHubAppID, c.GitHubPrivateKeyPath, opts...)
	}
	return githubreconciler.NewTokenClientFactory(c.GitHubToken, opts...)
}

func clientSource(f *githubreconciler.ClientFactory) issuereconciler.ClientSource {
	return func(ctx context.Context, installationID int64, owner, repo string) (issuereconciler.Repository, error) {
		return repositoryClient(ctx, f, installationID, owner, repo)
	}
}

func repositoryClient(ctx context.Context, f *githubreconciler.ClientFactory, installationID int64, owner, repo string) (*repoclient.Client, error) {
	gh, err := f.Client(ctx, installationID)
	if err != nil {
		return nil, err
	}
	hc, err := f.HTTPClient(ctx, installationID)
	if err != nil {
		return nil, err
	}
	return repoclient.New(gh, githubv4.NewEnterpriseClient(f.GraphQLURL(), hc), owner, repo)
}

func treeSource(f *githubreconciler.ClientFactory) issuereconciler.TreeSource {
	return func(ctx context.Context, issue issuereconciler.Issue) (repoclient.TreeLister, error) {
		ts, err := f.TokenSource(ctx, issue.InstallationID)
		if err != nil {
			return nil, err
		}
		return repoclient.NewCloneTreeLister(repoclient.RemoteURL(issue.Owner, issue.Repo), ts), nil
	}
}

// providers returns the configured model provider.
func (c *config) providers(ctx context.Context) (provider.Factory, error) {
	log := clog.FromContext(ctx).With("provider", c.ModelProvider)
	switch c.ModelProvider {
	case "openai":
		var opts []openaiprovider.Option
		if c.Model != "" {
			opts = append(opts, openaiprovider.WithModel(c.Model))
		}
		p, err := openaiprovider.New(openai.NewClient(openaioption.WithAPIKey(c.OpenAIAPIKey)), opts...)
		if err != nil {
			return nil, err
		}
		log.With("model", p.Model()).Info("Using OpenAI chat completions")
		return provider.Shared(p), nil

	case "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  c.GeminiAPIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("creating gemini client: %w", err)
		}
		var opts []googleprovider.Option
		if c.Model != "" {
			opts = append(opts, googleprovider.WithModel(c.Model))
		}
		p, err := googleprovider.New(client, opts...)
		if err != nil {
			return nil, err
		}
		log.With("model", p.Model()).Info("Using Gemini")
		return provider.Shared(p), nil

	case "assistants":
		opts := []assistantsprovider.Option{assistantsprovider.WithPollConfig(c.pollConfig())}
		if c.Model != "" {
			opts = append(opts, assistantsprovider.WithModel(c.Model))
		}
		log.With("assistant", c.AssistantID).Info("Using OpenAI assistants")
		return assistantsprovider.NewFactory(goopenai.NewClient(c.OpenAIAPIKey), c.AssistantID, opts...), nil

	default:
		var opts []claudeprovider.Option
		if c.Model != "" {
			opts = append(opts, claudeprovider.WithModel(c.Model))
		}
		p, err := claudeprovider.New(anthropic.NewClient(anthropicoption.WithAPIKey(c.AnthropicAPIKey)), opts...)
		if err != nil {
			return nil, err
		}
		log.With("model", p.Model()).Info("Using Claude")
		return provider.Shared(p), nil
	}
}

// policy returns the run policy, read from PolicyFile when set.
func (c *config) policy() (rundriver.Config, error) {
	if c.PolicyFile == "" {
		return rundriver.DefaultConfig(), nil
	}
	return rundriver.LoadConfig(c.PolicyFile)
}

// reconciler wires everything a run needs. The caller closes the store.
func (c *config) reconciler(ctx context.Context) (*issuereconciler.Reconciler, runregistry.Store, error) {
	policy, err := c.policy()
	if err != nil {
		return nil, nil, err
	}
	m := metrics.NewGenAI("chainguard.dev/issueagent")
	driver, err := rundriver.New(policy, rundriver.WithMetrics(m))
	if err != nil {
		return nil, nil, err
	}
	factory, err := c.clientFactory()
	if err != nil {
		return nil, nil, err
	}
	providers, err := c.providers(ctx)
	if err != nil {
		return nil, nil, err
	}
	store, err := c.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	rec, err := issuereconciler.New(issuereconciler.Config{
		ProductID: c.ProductID,
		Clients:   clientSource(factory),
		Providers: providers,
		Driver:    driver,
		Store:     store,
		Trees:     treeSource(factory),
		Orchestrator: []orchestrator.Option{
			orchestrator.WithMetrics(m),
			orchestrator.WithTurnTimeout(policy.TurnTimeout),
		},
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return rec, store, nil
}
