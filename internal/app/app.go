package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"storecast/internal/config"
	"storecast/internal/credential"
	"storecast/internal/engine"
	"storecast/internal/journal"
	"storecast/internal/platform"
)

// Options controls how Build wires the engine.
type Options struct {
	Workspace string
	// ConfigPath overrides the workspace's storecast.yml.
	ConfigPath string
	// Token comes from the environment or a flag and beats every other source.
	Token  string
	Logger *slog.Logger
	// OpenKeyring is consulted only when no token was configured; nil uses
	// the system keyring.
	OpenKeyring func() (*credential.Store, error)
	HTTPClient  *http.Client
}

// App is a wired engine plus the resources it owns.
type App struct {
	Engine  engine.Engine
	Config  *config.Config
	Journal *journal.Journal
}

// LoadConfig reads the config named by opts.
func LoadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.FromFile(opts.ConfigPath)
	}
	return config.Load(opts.Workspace)
}

// ResolveToken picks the platform token: explicit, then config, then keyring.
func ResolveToken(opts Options, cfg *config.Config) (string, error) {
	explicit := opts.Token
	if explicit == "" {
		explicit = cfg.Platform.Token
	}
	if explicit != "" {
		return explicit, nil
	}
	open := opts.OpenKeyring
	if open == nil {
		open = credential.Open
	}
	store, err := open()
	if err != nil {
		return "", fmt.Errorf("platform token not configured and keyring unavailable: %w", err)
	}
	tok, err := credential.PlatformToken("", store)
	if err != nil {
		return "", fmt.Errorf("platform token not configured; run storecast credential set: %w", err)
	}
	return tok, nil
}

// Build loads config, resolves the token, opens the journal and returns a
// ready engine. Close releases the journal.
func Build(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}
	token, err := ResolveToken(opts, cfg)
	if err != nil {
		return nil, err
	}

	clientOpts := []platform.Option{
		platform.WithRetry(cfg.Platform.Retry.MaxRetries, cfg.RetryDelay()),
		platform.WithLogger(logger),
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout()}
	}
	clientOpts = append(clientOpts, platform.WithHTTPClient(hc))
	client := platform.NewClient(cfg.Platform.BaseURL, token, clientOpts...)

	a := &App{Config: cfg}
	var recorder journal.Recorder = journal.Discard{}
	if path := cfg.JournalPath(opts.Workspace); path != "" {
		j, err := journal.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		a.Journal = j
		recorder = j
	}
	a.Engine = engine.New(client, cfg, recorder, logger)
	return a, nil
}

// Close releases resources held by the app.
func (a *App) Close() error {
	if a.Journal != nil {
		return a.Journal.Close()
	}
	return nil
}
