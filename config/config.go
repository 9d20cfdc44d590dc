// Package config loads core.Config from environment variables (AUTH9_*
// prefix) and an optional config file, via Viper.
package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/auth9/auth9core/core"
	"github.com/spf13/viper"
)

// Load reads configuration from configPath (if non-empty) and from
// AUTH9_-prefixed environment variables, which always take precedence.
func Load(configPath string) (core.Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("auth9core")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/auth9core")
	}

	v.SetEnvPrefix("AUTH9")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return core.Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := core.Config{
		DatabaseURL:          v.GetString("db_url"),
		CacheURL:             v.GetString("cache_url"),
		JWTIssuer:            v.GetString("jwt_issuer"),
		JWTSigningKey:        v.GetString("jwt_signing_key"),
		JWTPrivateKeyPEM:     v.GetString("jwt_private_key"),
		IdpURL:               v.GetString("idp_url"),
		IdpRealm:             v.GetString("idp_realm"),
		AdminClientID:        v.GetString("admin_client_id"),
		AdminClientSecret:    v.GetString("admin_client_secret"),
		CorePublicURL:        v.GetString("core_public_url"),
		PortalURL:            v.GetString("portal_url"),
		WebhookDefaultSecret: v.GetString("webhook_secret"),
		PasswordResetHMACKey: v.GetString("password_reset_hmac_key"),
		OidcStateHMACKey:     v.GetString("oidc_state_hmac_key"),
		AccessTokenTTL:       v.GetDuration("access_token_ttl"),
		RefreshTokenTTL:      v.GetDuration("refresh_token_ttl"),
		RoleCacheTTL:         v.GetDuration("cache_ttl"),
		InvitationTTL:        v.GetDuration("invitation_ttl"),
		ActionDefaultTimeout: v.GetDuration("action_default_timeout"),
		ScriptCacheCapacity:  v.GetInt("script_cache_capacity"),
		HTTPAddr:             v.GetString("http_addr"),
		GRPCAddr:             v.GetString("grpc_addr"),
		AutoMigrate:          v.GetBool("auto_migrate"),
	}

	if emails := v.GetString("platform_admin_emails"); emails != "" {
		for _, e := range strings.Split(emails, ",") {
			e = strings.TrimSpace(e)
			if e != "" {
				cfg.PlatformAdminEmails = append(cfg.PlatformAdminEmails, e)
			}
		}
	}

	if key := v.GetString("settings_encryption_key"); key != "" {
		decoded, err := decodeKey(key)
		if err != nil {
			return core.Config{}, fmt.Errorf("AUTH9_SETTINGS_ENCRYPTION_KEY: %w", err)
		}
		cfg.SettingsEncryptionKey = decoded
	}

	return cfg, nil
}

// decodeKey accepts a 32-byte key given either raw or base64-encoded.
func decodeKey(s string) ([]byte, error) {
	if len(s) == 32 {
		return []byte(s), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("not raw 32 bytes and not valid base64: %w", err)
	}
	if len(decoded) != 32 {
		return nil, fmt.Errorf("decoded key is %d bytes, want 32", len(decoded))
	}
	return decoded, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("grpc_addr", ":8090")
	v.SetDefault("auto_migrate", false)
	v.SetDefault("access_token_ttl", 15*time.Minute)
	v.SetDefault("refresh_token_ttl", 7*24*time.Hour)
	v.SetDefault("cache_ttl", 30*time.Second)
	v.SetDefault("invitation_ttl", 7*24*time.Hour)
	v.SetDefault("action_default_timeout", 3*time.Second)
	v.SetDefault("script_cache_capacity", 100)
}
