// Package security проверяет токены доступа к API.
// Токены хранятся в конфигурации только в виде Argon2id-хешей.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"
)

// Параметры Argon2id для новых хешей
const (
	argonMemory      uint32 = 65536 // 64 MB
	argonIterations  uint32 = 3
	argonParallelism uint8  = 2
	argonKeyLength   uint32 = 32
	argonSaltLength         = 16
)

// HashToken возвращает Argon2id-хеш токена в стандартном формате:
// $argon2id$v=19$m=65536,t=3,p=2$<salt_base64>$<hash_base64>
func HashToken(token string) (string, error) {
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("ошибка генерации соли: %w", err)
	}

	hash := argon2.IDKey([]byte(token), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonIterations, argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyArgon2id проверяет токен по хешу.
// Формат хеша: $argon2id$v=19$m=65536,t=3,p=2$<salt_base64>$<hash_base64>
func VerifyArgon2id(token, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		log.Error("Некорректный формат хеша Argon2id")
		return false
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		log.WithError(err).Error("Ошибка парсинга параметров Argon2id")
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования соли")
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования хеша")
		return false
	}

	computed := argon2.IDKey([]byte(token), salt, iterations, memory, parallelism, uint32(len(expected)))

	// Сравниваем в постоянном времени
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// TokenVerifier проверяет токен одного уровня доступа (сервис или админ).
// Argon2id дорогой, поэтому последний подошедший токен запоминается
// в виде SHA-256 и дальше сверяется без пересчёта хеша.
type TokenVerifier struct {
	encodedHash string
	verified    atomic.Pointer[[sha256.Size]byte]
}

// NewTokenVerifier создаёт проверку для хеша из конфигурации.
func NewTokenVerifier(encodedHash string) *TokenVerifier {
	return &TokenVerifier{encodedHash: encodedHash}
}

// Verify возвращает true, если токен соответствует хешу.
func (v *TokenVerifier) Verify(token string) bool {
	if token == "" {
		return false
	}

	digest := sha256.Sum256([]byte(token))
	if known := v.verified.Load(); known != nil && subtle.ConstantTimeCompare(known[:], digest[:]) == 1 {
		return true
	}

	if !VerifyArgon2id(token, v.encodedHash) {
		return false
	}
	v.verified.Store(&digest)
	return true
}
