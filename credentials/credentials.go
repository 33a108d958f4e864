package credentials

import (
	"context"
	"fmt"

	apperrors "github.com/theDeemoonn/foodMobile/internal/errors"
)

// Key names one of the fixed credential entries.
type Key string

const (
	AccessToken  Key = "access_token"
	RefreshToken Key = "refresh_token"
	SessionID    Key = "session_id"
)

// Keys lists every credential key in a stable order.
var Keys = []Key{AccessToken, RefreshToken, SessionID}

// Valid reports whether k is one of the fixed keys.
func (k Key) Valid() bool {
	switch k {
	case AccessToken, RefreshToken, SessionID:
		return true
	}
	return false
}

// CheckKey returns ErrUnknownKey for anything outside Keys.
func CheckKey(k Key) error {
	if !k.Valid() {
		return fmt.Errorf("%w: %q", apperrors.ErrUnknownKey, string(k))
	}
	return nil
}

// Record is the set of credentials issued for one session.
// Empty fields mean the entry is absent.
type Record struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
}

func (r Record) value(k Key) string {
	switch k {
	case AccessToken:
		return r.AccessToken
	case RefreshToken:
		return r.RefreshToken
	case SessionID:
		return r.SessionID
	}
	return ""
}

// Save writes every non-empty field of r. Empty fields are removed so a
// stale session id from an earlier login cannot outlive a new token pair.
func Save(ctx context.Context, s Store, r Record) error {
	for _, k := range Keys {
		v := r.value(k)
		var err error
		if v == "" {
			err = s.Remove(ctx, k)
		} else {
			err = s.Set(ctx, k, v)
		}
		if err != nil {
			return apperrors.E(apperrors.KindPersistence, "credentials.Save", fmt.Errorf("%s: %w", k, err))
		}
	}
	return nil
}

// Load reads all three keys.
func Load(ctx context.Context, s Store) (Record, error) {
	var r Record
	for _, k := range Keys {
		v, _, err := s.Get(ctx, k)
		if err != nil {
			return Record{}, apperrors.E(apperrors.KindPersistence, "credentials.Load", fmt.Errorf("%s: %w", k, err))
		}
		switch k {
		case AccessToken:
			r.AccessToken = v
		case RefreshToken:
			r.RefreshToken = v
		case SessionID:
			r.SessionID = v
		}
	}
	return r, nil
}

// Clear removes all three keys. Every key is attempted even if an earlier
// removal fails; the failures are joined.
func Clear(ctx context.Context, s Store) error {
	var errs []error
	for _, k := range Keys {
		if err := s.Remove(ctx, k); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
		}
	}
	if len(errs) > 0 {
		return apperrors.E(apperrors.KindPersistence, "credentials.Clear", apperrors.Join(errs...))
	}
	return nil
}
