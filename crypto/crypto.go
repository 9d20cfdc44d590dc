package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/auth9/auth9core/core"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32

	nonceLen = 12
	rsaBits  = 2048
)

// PasswordHasher hashes client secrets and invitation tokens with Argon2id.
// End-user credentials themselves are never stored here — that is the
// external IdP's responsibility (see Non-goals).
type PasswordHasher struct{}

func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{}
}

func (h *PasswordHasher) Hash(secret string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(secret), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	encoded := fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))

	return encoded, nil
}

func (h *PasswordHasher) Verify(secret, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return false, fmt.Errorf("parse hash: invalid format")
	}
	var memory, timeParam uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeParam, &threads); err != nil {
		return false, fmt.Errorf("parse hash: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}

	hash := argon2.IDKey([]byte(secret), salt, timeParam, memory, threads, argon2KeyLen)
	if len(hash) != len(expectedHash) {
		return false, nil
	}

	var diff byte
	for i := range hash {
		diff |= hash[i] ^ expectedHash[i]
	}
	return diff == 0, nil
}

// KeyManager generates, rotates, and signs with tenant signing keys. Both
// HS256 (shared-secret) and RS256 (asymmetric, published via JWKS) keys are
// supported per spec.md §4.1; the algorithm is chosen at generation time and
// carried on the key row so Verify can dispatch without guessing.
type KeyManager struct {
	keys      core.SigningKeyStore
	masterKey []byte // AES-256-GCM key protecting PrivateKeyEncrypted at rest
}

// NewKeyManager creates a KeyManager. masterKey must be 32 bytes; the caller
// (cmd/auth9core/main.go) derives it from AUTH9_SETTINGS_ENCRYPTION_KEY.
func NewKeyManager(keys core.SigningKeyStore, masterKey []byte) *KeyManager {
	return &KeyManager{keys: keys, masterKey: masterKey}
}

// GenerateKey creates a new active signing key, marking any prior active key
// for the tenant inactive (still verifiable, no longer used for new signing).
func (m *KeyManager) GenerateKey(ctx context.Context, tenantID, algorithm string) (*core.SigningKey, error) {
	kid := uuid.New().String()
	key := &core.SigningKey{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		KID:       kid,
		Algorithm: algorithm,
		Status:    "active",
		CreatedAt: time.Now(),
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(90 * 24 * time.Hour),
	}

	switch algorithm {
	case "RS256":
		privateKey, err := rsa.GenerateKey(rand.Reader, rsaBits)
		if err != nil {
			return nil, fmt.Errorf("generate rsa key: %w", err)
		}
		jwk := map[string]interface{}{
			"kty": "RSA",
			"kid": kid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(privateKey.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(bigEndianExponent(privateKey.PublicKey.E)),
		}
		jwkJSON, err := json.Marshal(jwk)
		if err != nil {
			return nil, fmt.Errorf("marshal jwk: %w", err)
		}
		encrypted, err := encryptBytes(x509.MarshalPKCS1PrivateKey(privateKey), m.masterKey)
		if err != nil {
			return nil, fmt.Errorf("encrypt private key: %w", err)
		}
		key.PublicJWK = jwkJSON
		key.PrivateKeyEncrypted = encrypted
	case "HS256":
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate hmac secret: %w", err)
		}
		encrypted, err := encryptBytes(secret, m.masterKey)
		if err != nil {
			return nil, fmt.Errorf("encrypt secret: %w", err)
		}
		key.PrivateKeyEncrypted = encrypted
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", algorithm)
	}

	if prior, err := m.keys.GetActive(ctx, tenantID); err == nil && prior != nil {
		_ = m.keys.MarkInactive(ctx, tenantID, prior.ID)
	}

	if err := m.keys.Create(ctx, key); err != nil {
		return nil, fmt.Errorf("store key: %w", err)
	}
	return key, nil
}

// GetPublicJWKS returns one entry per active or inactive-but-unexpired RS256 key.
func (m *KeyManager) GetPublicJWKS(ctx context.Context, tenantID string) (map[string]interface{}, error) {
	keys, err := m.keys.ListActive(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	jwks := make([]map[string]interface{}, 0, len(keys))
	for _, key := range keys {
		if key.Algorithm != "RS256" || len(key.PublicJWK) == 0 {
			continue
		}
		var jwk map[string]interface{}
		if err := json.Unmarshal(key.PublicJWK, &jwk); err != nil {
			continue
		}
		jwks = append(jwks, jwk)
	}
	return map[string]interface{}{"keys": jwks}, nil
}

// Sign mints a JWT for tenantID's currently active key.
func (m *KeyManager) Sign(ctx context.Context, tenantID string, claims map[string]interface{}) (string, error) {
	key, err := m.keys.GetActive(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("get active key: %w", err)
	}

	tokenClaims := jwt.MapClaims{}
	for k, v := range claims {
		tokenClaims[k] = v
	}

	switch key.Algorithm {
	case "RS256":
		privBytes, err := decryptBytes(key.PrivateKeyEncrypted, m.masterKey)
		if err != nil {
			return "", fmt.Errorf("decrypt private key: %w", err)
		}
		privateKey, err := x509.ParsePKCS1PrivateKey(privBytes)
		if err != nil {
			return "", fmt.Errorf("parse private key: %w", err)
		}
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, tokenClaims)
		token.Header["kid"] = key.KID
		return token.SignedString(privateKey)
	case "HS256":
		secret, err := decryptBytes(key.PrivateKeyEncrypted, m.masterKey)
		if err != nil {
			return "", fmt.Errorf("decrypt secret: %w", err)
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims)
		token.Header["kid"] = key.KID
		return token.SignedString(secret)
	default:
		return "", fmt.Errorf("unsupported algorithm: %s", key.Algorithm)
	}
}

// Verify parses tokenString, selecting the verification key by alg and kid,
// and returns the raw claim map.
func (m *KeyManager) Verify(ctx context.Context, tenantID, tokenString string) (map[string]interface{}, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		var key *core.SigningKey
		var err error
		if kid != "" {
			key, err = m.keys.GetByKID(ctx, tenantID, kid)
		} else {
			key, err = m.keys.GetActive(ctx, tenantID)
		}
		if err != nil {
			return nil, fmt.Errorf("get key: %w", err)
		}

		switch token.Method.(type) {
		case *jwt.SigningMethodRSA:
			if key.Algorithm != "RS256" {
				return nil, fmt.Errorf("algorithm mismatch")
			}
			privBytes, err := decryptBytes(key.PrivateKeyEncrypted, m.masterKey)
			if err != nil {
				return nil, fmt.Errorf("decrypt private key: %w", err)
			}
			priv, err := x509.ParsePKCS1PrivateKey(privBytes)
			if err != nil {
				return nil, fmt.Errorf("parse private key: %w", err)
			}
			return &priv.PublicKey, nil
		case *jwt.SigningMethodHMAC:
			if key.Algorithm != "HS256" {
				return nil, fmt.Errorf("algorithm mismatch")
			}
			return decryptBytes(key.PrivateKeyEncrypted, m.masterKey)
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}
	return claims, nil
}

func bigEndianExponent(e int) []byte {
	b := []byte{byte(e >> 16), byte(e >> 8), byte(e)}
	i := 0
	for i < len(b)-1 && b[i] == 0 {
		i++
	}
	return b[i:]
}

// encryptBytes encrypts plaintext with AES-256-GCM under key.
func encryptBytes(plaintext, key []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decryptBytes reverses encryptBytes.
func decryptBytes(ciphertext, key []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	if len(ciphertext) < nonceLen {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce := ciphertext[:nonceLen]
	ciphertext = ciphertext[nonceLen:]

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return aesgcm.Open(nil, nonce, ciphertext, nil)
}

// SettingsCipher encrypts tenant settings values at rest (supplemented
// feature, see SPEC_FULL.md EXP-3.2), independent of signing-key material.
type SettingsCipher struct {
	key []byte
}

func NewSettingsCipher(key []byte) *SettingsCipher {
	return &SettingsCipher{key: key}
}

func (c *SettingsCipher) Encrypt(plaintext []byte) ([]byte, error) {
	return encryptBytes(plaintext, c.key)
}

func (c *SettingsCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	return decryptBytes(ciphertext, c.key)
}

// HashString returns a stable SHA256 digest of s, used for invitation-token
// and refresh-token lookups (never for passwords/secrets — use PasswordHasher).
func HashString(s string) string {
	hash := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
