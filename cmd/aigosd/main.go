package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/aigos-io/aigos/internal/a2a"
	"github.com/aigos-io/aigos/internal/gateway"
	"github.com/aigos-io/aigos/internal/issuer"
	"github.com/aigos-io/aigos/internal/ledger"
	"github.com/aigos-io/aigos/internal/policy"
	"github.com/aigos-io/aigos/internal/spawn"
	"github.com/aigos-io/aigos/internal/token"
	"github.com/aigos-io/aigos/internal/trust"
	"github.com/aigos-io/aigos/internal/verification"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("aigosd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("aigosd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.rate_limit_rps", 50)
	viper.SetDefault("server.cors_origins", []string{})
	viper.SetDefault("database.url", "")
	viper.SetDefault("signing.key_file", "certs/aigos-signing.pem")
	viper.SetDefault("signing.key_id", "aigos-root-2026")
	viper.SetDefault("issuer.organization", "aigos.io")
	viper.SetDefault("issuer.ca_id", "")
	viper.SetDefault("issuer.ca_name", "")
	viper.SetDefault("token.validity_seconds", token.DefaultValiditySeconds)
	viper.SetDefault("trust.policy_file", "configs/trust-policy.yaml")
	viper.SetDefault("trust.keys_dir", "")
	viper.SetDefault("trust.jwks_url", "")
	viper.SetDefault("policy.dir", "configs/policies")
	viper.SetDefault("policy.cache_capacity", 100)
	viper.SetDefault("spawn.auto_adjust", true)
	viper.SetDefault("killswitch.timeout_ms", 60000)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Signing key ──────────────────────────────────────────────────────────
	key, err := loadOrCreateSigningKey(viper.GetString("signing.key_file"), logger)
	if err != nil {
		return fmt.Errorf("signing key setup: %w", err)
	}
	keyID := viper.GetString("signing.key_id")
	signer := issuer.NewES256Signer(key, keyID)

	// ── Ledger ───────────────────────────────────────────────────────────────
	var (
		lifecycleLedger ledger.Ledger
		revocation      token.RevocationOracle
	)
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		db, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()
		if err := db.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		pg := ledger.NewPostgresLedger(db, logger)
		lifecycleLedger, revocation = pg, pg
		logger.Info("certificate ledger: postgres")

		if err := pg.Audit(context.Background()); err != nil {
			logger.Warn("certificate ledger integrity check FAILED", zap.Error(err))
		}
	} else {
		mem := ledger.New()
		lifecycleLedger, revocation = mem, mem
		logger.Info("certificate ledger: in-memory (set database.url for durability)")
	}

	// ── Certification pipeline ───────────────────────────────────────────────
	var ca issuer.CAResolver
	if caID := viper.GetString("issuer.ca_id"); caID != "" {
		ca = issuer.StaticCA{ID: caID, Name: viper.GetString("issuer.ca_name")}
	}
	generator := issuer.NewGenerator(viper.GetString("issuer.organization"), signer, ca, logger)

	engine := verification.NewEngine(logger,
		verification.WithKillSwitchSigner(signer.Sign),
		verification.WithKillSwitchTimeout(time.Duration(viper.GetInt("killswitch.timeout_ms"))*time.Millisecond),
	)

	// ── Tokens ───────────────────────────────────────────────────────────────
	minter := token.NewMinter(key, keyID,
		time.Duration(viper.GetInt("token.validity_seconds"))*time.Second)

	var keys token.KeyResolver
	if jwksURL := viper.GetString("trust.jwks_url"); jwksURL != "" {
		keys = token.NewJWKSResolver(jwksURL, 0)
		logger.Info("key resolution: JWKS", zap.String("url", jwksURL))
	} else {
		keyring, err := loadKeyring(viper.GetString("trust.keys_dir"))
		if err != nil {
			return fmt.Errorf("load trusted keys: %w", err)
		}
		keyring.Add(keyID, signer.PublicKey())
		keys = keyring
	}
	tokens := token.NewVerifier(keys, logger, token.WithRevocation(revocation))

	// ── Trust policy ─────────────────────────────────────────────────────────
	policyBytes, err := os.ReadFile(viper.GetString("trust.policy_file"))
	if err != nil {
		return fmt.Errorf("read trust policy: %w", err)
	}
	trustPolicy, err := trust.ParsePolicy(policyBytes)
	if err != nil {
		return fmt.Errorf("parse trust policy: %w", err)
	}
	evaluator := trust.NewEvaluator(trustPolicy, logger)
	logger.Info("trust policy loaded",
		zap.String("name", trustPolicy.Metadata.Name),
		zap.Int("actions", len(trustPolicy.Spec.Actions)),
		zap.Int("trusted_cas", len(trustPolicy.Spec.TrustedCAs)))

	// ── Spawn enforcement ────────────────────────────────────────────────────
	enforcer := spawn.NewEnforcer(spawn.DefaultDecayRules(), viper.GetBool("spawn.auto_adjust"), logger)

	// ── Policy graph ─────────────────────────────────────────────────────────
	repo, candidates, err := loadPolicyDocuments(viper.GetString("policy.dir"))
	if err != nil {
		return fmt.Errorf("load policy documents: %w", err)
	}
	fallback := &policy.Document{ID: "default", Mode: "enforce", EnforcementLevel: "standard"}
	selector := policy.NewSelector(candidates, repo, fallback, viper.GetInt("policy.cache_capacity"), logger)
	logger.Info("policy documents loaded", zap.Int("count", len(candidates)))

	// ── HTTP surface ─────────────────────────────────────────────────────────
	admission := a2a.NewMiddleware(tokens, evaluator, logger)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	gw := gateway.New(gateway.Config{
		RateLimitRPS:   viper.GetInt("server.rate_limit_rps"),
		RateLimitBurst: viper.GetInt("server.rate_limit_rps") * 2,
		AllowedOrigins: viper.GetStringSlice("server.cors_origins"),
	}, gateway.Deps{
		Engine:    engine,
		Generator: generator,
		Minter:    minter,
		Tokens:    tokens,
		Evaluator: evaluator,
		Enforcer:  enforcer,
		Selector:  selector,
		Repo:      repo,
		Ledger:    lifecycleLedger,
		Admission: admission,
		JWKSKeys:  map[string]*ecdsa.PublicKey{keyID: signer.PublicKey()},
	}, logger)

	port := viper.GetInt("server.port")
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           gw.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("aigosd listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down aigosd...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	gw.Close()
	logger.Info("aigosd stopped")
	return nil
}

// loadOrCreateSigningKey reads an EC private key PEM, generating and
// persisting a fresh P-256 key on first start.
func loadOrCreateSigningKey(path string, logger *zap.Logger) (*ecdsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		block, _ := pem.Decode(raw)
		if block == nil {
			return nil, fmt.Errorf("no PEM block in %s", path)
		}
		if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
			return key, nil
		}
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse signing key %s: %w", path, err)
		}
		key, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("signing key %s is %T, want *ecdsa.PrivateKey", path, parsed)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("encode signing key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		return nil, fmt.Errorf("persist signing key: %w", err)
	}
	logger.Info("generated new signing key", zap.String("path", path))
	return key, nil
}

// loadKeyring builds a static keyring from <kid>.pem files in dir. An
// empty dir yields an empty keyring (the daemon's own key is added by
// the caller).
func loadKeyring(dir string) (*token.StaticKeyring, error) {
	trusted := make(map[string][]byte)
	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".pem") {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				return nil, err
			}
			trusted[strings.TrimSuffix(e.Name(), ".pem")] = raw
		}
	}
	return token.NewStaticKeyring(trusted)
}

// loadPolicyDocuments parses every YAML document in dir. Candidate order
// is file-name order, which the selector treats as document order.
func loadPolicyDocuments(dir string) (policy.MapRepository, []*policy.Document, error) {
	repo := policy.MapRepository{}
	var candidates []*policy.Document

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return repo, nil, nil
		}
		return nil, nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, nil, err
		}
		doc, err := policy.ParseDocument(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("parse policy %s: %w", name, err)
		}
		if doc.ID == "" {
			return nil, nil, fmt.Errorf("policy %s has no id", name)
		}
		repo[doc.ID] = doc
		candidates = append(candidates, doc)
	}
	return repo, candidates, nil
}
