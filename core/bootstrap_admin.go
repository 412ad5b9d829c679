package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// BootstrapAdmin creates an initial admin account when none exists.
// It is idempotent: once any admin exists it does nothing.
func BootstrapAdmin(ctx context.Context, repo UserRepository, hasher *PasswordHasher, cfg Config, log *zap.Logger) error {
	if !cfg.BootstrapAdminEnabled {
		return nil
	}

	has, err := repo.HasAdmin(ctx)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	password, err := generatePassword(32)
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(password)
	if err != nil {
		return err
	}

	u, err := repo.Create(ctx, cfg.AdminEmail, hash, "Administrator", RoleAdmin)
	if err != nil {
		if KindOf(err) == KindConflict {
			return fmt.Errorf("bootstrap admin: %s is already registered as a non-admin user", cfg.AdminEmail)
		}
		return err
	}

	if cfg.InitialAdminPasswordPath != "" {
		if err := os.WriteFile(cfg.InitialAdminPasswordPath, []byte(password+"\n"), 0o600); err != nil {
			return err
		}
		log.Info("initial admin created",
			zap.Int64("user_id", u.ID),
			zap.String("email", u.Email),
			zap.String("password_file", cfg.InitialAdminPasswordPath))
		return nil
	}
	log.Warn("initial admin created; set INITIAL_ADMIN_PASSWORD_PATH to avoid logging the password",
		zap.String("email", u.Email),
		zap.String("password", password))
	return nil
}

func generatePassword(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("password length must be positive")
	}
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw)[:length], nil
}
