package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/orrn/snapproxy/internal/db"
	"github.com/orrn/snapproxy/internal/snapmaker"
)

const settingsKeyToken = "snapmaker_token"

// SQLiteStore keeps the token in the settings table. With a sealer the
// value is encrypted at rest and flagged as such.
type SQLiteStore struct {
	settings *db.SettingsOperations
	sealer   *Sealer
}

func NewSQLiteStore(database *sql.DB, sealer *Sealer) *SQLiteStore {
	return &SQLiteStore{
		settings: db.NewSettings(database),
		sealer:   sealer,
	}
}

func (s *SQLiteStore) Load(ctx context.Context) (string, error) {
	setting, err := s.settings.GetSetting(ctx, settingsKeyToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", snapmaker.ErrNoToken
		}
		return "", err
	}

	if !setting.Encrypted {
		if setting.Value == "" {
			return "", snapmaker.ErrNoToken
		}
		return setting.Value, nil
	}

	if s.sealer == nil {
		return "", fmt.Errorf("stored token is encrypted but no passphrase is configured")
	}
	token, err := s.sealer.Open(setting.Value)
	if err != nil {
		// Sealed under another passphrase. The device will issue a new
		// token, so drop the dead one instead of failing on it every start.
		if delErr := s.settings.DeleteSetting(ctx, settingsKeyToken); delErr != nil {
			return "", fmt.Errorf("failed to decrypt stored token: %w (and failed to clear it: %v)", err, delErr)
		}
		return "", fmt.Errorf("%w: discarded undecryptable token: %w", snapmaker.ErrNoToken, err)
	}
	return token, nil
}

func (s *SQLiteStore) Save(ctx context.Context, token string) error {
	if s.sealer == nil {
		return s.settings.SetSetting(ctx, settingsKeyToken, token, false)
	}

	sealed, err := s.sealer.Seal(token)
	if err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}
	return s.settings.SetSetting(ctx, settingsKeyToken, sealed, true)
}
