package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/credchain/credchain/internal/audit"
	credaws "github.com/credchain/credchain/internal/aws"
	"github.com/credchain/credchain/internal/config"
	"github.com/credchain/credchain/internal/graph"
	"github.com/credchain/credchain/internal/logging"
	"github.com/credchain/credchain/internal/profile"
	"github.com/credchain/credchain/internal/resolve"
	"github.com/credchain/credchain/internal/tokencache"
)

// app bundles everything a command needs after startup.
type app struct {
	cfg         config.GlobalConfig
	logger      zerolog.Logger
	manager     *resolve.Manager
	resolver    *resolve.Resolver
	store       *profile.Store
	auditLogger *audit.Logger
	tokens      tokencache.Cache
	clients     credaws.ServiceClients
}

func (a *app) close() {
	if a.auditLogger != nil && a.auditLogger.DB() != nil {
		a.auditLogger.DB().Close()
	}
}

// loadApp wires the store, validator, resolver and manager from the global
// config and performs the initial profile load.
func loadApp() (*app, error) {
	cfg, err := config.LoadGlobalConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var auditLogger *audit.Logger
	if cfg.AuditLogPath != "" {
		auditLogger, err = audit.Open(cfg.AuditLogPath)
		if err != nil {
			return nil, fmt.Errorf("opening audit journal: %w", err)
		}
	}

	tokens, err := openTokenCache(cfg)
	if err != nil {
		return nil, err
	}

	configPath, credentialsPath := config.ProfileFilePaths()
	store := profile.NewStore(configPath, credentialsPath, logger)
	clients := credaws.NewClientFactory(logger, auditLogger)
	resolver := resolve.NewResolver(clients, tokens, &terminalMFAPrompter{}, cfg.DefaultRegion, logger, auditLogger)
	manager := resolve.NewManager(store, graph.NewValidator(logger), resolver, logger, auditLogger)

	if err := manager.Load(); err != nil {
		return nil, fmt.Errorf("loading profiles: %w", err)
	}

	return &app{
		cfg:         cfg,
		logger:      logger,
		manager:     manager,
		resolver:    resolver,
		store:       store,
		auditLogger: auditLogger,
		tokens:      tokens,
		clients:     clients,
	}, nil
}

func openTokenCache(cfg config.GlobalConfig) (tokencache.Cache, error) {
	switch cfg.TokenCacheMode {
	case "memory":
		return tokencache.NewMemoryCache(), nil
	case "encrypted":
		passphrase, err := readPassphrase("Token cache passphrase: ")
		if err != nil {
			return nil, err
		}
		return tokencache.NewFileCache(config.TokenCacheDir(), passphrase)
	default:
		return tokencache.NewFileCache(config.TokenCacheDir(), "")
	}
}

// readPassphrase reads a secret from the terminal without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	passBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	fmt.Fprintln(os.Stderr)
	return string(passBytes), nil
}

// terminalMFAPrompter reads a one-time code from stdin.
type terminalMFAPrompter struct{}

func (terminalMFAPrompter) PromptMFA(profileName, serial string) (string, error) {
	fmt.Fprintf(os.Stderr, "MFA code for %s (%s): ", profileName, serial)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading MFA code: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// ssoConfigForProfile returns the merged SSO configuration of a named
// profile from the current snapshot.
func ssoConfigForProfile(a *app, name string) (*profile.SSOConfig, error) {
	fs, err := a.store.Load()
	if err != nil {
		return nil, err
	}
	p, ok := fs.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile %q not found", name)
	}
	cfg, err := profile.SSOConfigFor(p, fs.SSOSessions)
	if err != nil {
		return nil, fmt.Errorf("profile %q has no usable SSO configuration: %w", name, err)
	}
	return cfg, nil
}
