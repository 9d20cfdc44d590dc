package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"

	"github.com/redis/go-redis/v9"

	"github.com/auth9/auth9core/abac"
	"github.com/auth9/auth9core/actions"
	"github.com/auth9/auth9core/audit"
	"github.com/auth9/auth9core/authz"
	"github.com/auth9/auth9core/cache"
	"github.com/auth9/auth9core/config"
	"github.com/auth9/auth9core/core"
	"github.com/auth9/auth9core/crypto"
	"github.com/auth9/auth9core/grpcapi"
	"github.com/auth9/auth9core/httpapi"
	"github.com/auth9/auth9core/invitations"
	"github.com/auth9/auth9core/oidc"
	"github.com/auth9/auth9core/rbac"
	"github.com/auth9/auth9core/scim"
	"github.com/auth9/auth9core/security"
	"github.com/auth9/auth9core/store"
	"github.com/auth9/auth9core/tenant"
	"github.com/auth9/auth9core/tokens"
	"github.com/auth9/auth9core/webhooks"
)

func main() {
	configPath := flag.String("config", "", "Path to auth9core.yaml (defaults to AUTH9_-prefixed env vars)")
	sqlite := flag.String("sqlite", "", "SQLite DSN; overrides the configured Postgres DATABASE_URL (local/dev use)")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	log.Logger = logger

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	gormStore, err := newStore(cfg, *sqlite)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to database")
	}
	if cfg.AutoMigrate {
		logger.Info().Msg("running database migrations")
		if err := gormStore.AutoMigrate(); err != nil {
			logger.Fatal().Err(err).Msg("auto-migrate")
		}
	}

	redisOpts, err := redis.ParseURL(cfg.CacheURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse cache url")
	}
	roleCache := cache.NewRoleCache(redis.NewClient(redisOpts), logger)

	clock := core.RealClock{}
	auditSink := audit.NewService(gormStore.AuditEvents())

	coreInstance, err := core.NewCore(cfg, gormStore, auditSink)
	if err != nil {
		logger.Fatal().Err(err).Msg("construct core")
	}

	keyManager := crypto.NewKeyManager(gormStore.SigningKeys(), cfg.SettingsEncryptionKey)
	coreInstance.KeyManager = keyManager
	coreInstance.Cache = roleCache

	rbacService, err := rbac.NewService(
		gormStore.DB(),
		gormStore.Roles(),
		gormStore.RolePermissions(),
		gormStore.UserTenantRoles(),
		gormStore.TenantUsers(),
		roleCache,
		cfg.RoleCacheTTL,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("construct rbac service")
	}

	tokenService := tokens.NewService(
		keyManager,
		gormStore.Users(),
		gormStore.Clients(),
		gormStore.Services(),
		gormStore.RefreshTokens(),
		rbacService,
		clock,
		cfg.JWTIssuer,
		cfg.AccessTokenTTL,
		cfg.RefreshTokenTTL,
	)
	coreInstance.TokenService = tokenService

	abacEvaluator := abac.NewEvaluator()
	authzEngine := authz.NewEngine(
		authz.DefaultRegistry(),
		gormStore.TenantUsers(),
		gormStore.AbacPolicySets(),
		abacEvaluator,
		clock,
		auditSink,
		cfg,
		logger,
	)
	coreInstance.AuthzEngine = authzEngine

	actionEngine := actions.NewEngine(gormStore.Actions(), actions.NewGoExprRuntime(), clock, logger)
	coreInstance.ActionEngine = actionEngine

	webhookDispatcher := webhooks.NewDispatcher(gormStore.Webhooks(), clock, logger)
	coreInstance.WebhookDispatcher = webhookDispatcher

	securityDetector := security.NewDetector(gormStore.LoginEvents(), gormStore.SecurityAlerts(), webhookDispatcher, clock)
	coreInstance.SecurityDetector = securityDetector

	idpClient := oidc.NewKeycloakClient(cfg, http.DefaultClient)
	oidcBroker := oidc.NewBroker(
		gormStore.Clients(),
		gormStore.Services(),
		gormStore.Users(),
		actionEngine,
		tokenService,
		auditSink,
		clock,
		gormStore.LoginEvents(),
		securityDetector,
		idpClient,
		cfg.OidcStateHMACKey,
		cfg.CorePublicURL+"/api/v1/auth/callback",
	)
	coreInstance.OidcBroker = oidcBroker

	idpAdminClient := oidc.NewKeycloakAdminClient(cfg, http.DefaultClient)
	scimServer := scim.NewServer(gormStore.Users(), gormStore.ScimProvisioningLogs(), idpAdminClient, clock)
	coreInstance.ScimServer = scimServer

	invitationService := invitations.NewService(gormStore.Invitations(), gormStore.Tenants(), clock, cfg.InvitationTTL)
	coreInstance.InvitationService = invitationService

	coreInstance.ConnectorResolver = tenant.NewDomainResolver(gormStore.SsoConnectors())

	grpcServer := grpc.NewServer()
	grpcapi.RegisterTokenExchangeServer(grpcServer, grpcapi.NewTokenExchangeServer(tokenService, gormStore))

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("listen grpc")
	}
	go func() {
		logger.Info().Str("addr", cfg.GRPCAddr).Msg("grpc server listening")
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Fatal().Err(err).Msg("grpc server failed")
		}
	}()

	httpServer := httpapi.NewServer(coreInstance)
	logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
	if err := http.ListenAndServe(cfg.HTTPAddr, httpServer); err != nil {
		logger.Fatal().Err(err).Msg("http server failed")
	}
}

func newStore(cfg core.Config, sqliteDSN string) (*store.GormStore, error) {
	if sqliteDSN != "" {
		return store.NewSqlite(sqliteDSN)
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("AUTH9_DB_URL is not set (or pass -sqlite for local use)")
	}
	return store.New(cfg.DatabaseURL)
}
