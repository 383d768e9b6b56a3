package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"fieldops/internal/domain"
)

// GetDraft returns the raw draft payload at key. The second result is
// false when no draft exists.
func (s Store) GetDraft(ctx context.Context, key string) ([]byte, bool, error) {
	var payload string
	err := s.DB.QueryRowContext(ctx, `SELECT payload FROM drafts WHERE session_key=?`, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(payload), true, nil
}

// PutDraft writes the draft payload and, when markActive is set, repoints
// the active-session pointer in the same transaction.
func (s Store) PutDraft(ctx context.Context, key string, payload []byte, markActive bool) error {
	now := s.now()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO drafts(session_key,payload,updated_at) VALUES (?,?,?)
		 ON CONFLICT(session_key) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		key, string(payload), now); err != nil {
		return fmt.Errorf("put draft %s: %w", key, err)
	}
	if markActive {
		if err := setActiveTx(ctx, tx, key, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteDraft removes the draft and clears the active pointer when it
// points at the same key. Deleting a missing draft is a no-op.
func (s Store) DeleteDraft(ctx context.Context, key string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM drafts WHERE session_key=?`, key); err != nil {
		return fmt.Errorf("delete draft %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM active_session WHERE session_key=?`, key); err != nil {
		return err
	}
	return tx.Commit()
}

// ListDraftKeys returns all stored draft keys, most recently written
// first.
func (s Store) ListDraftKeys(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT session_key FROM drafts ORDER BY updated_at DESC, session_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ActiveKey returns the session key the active pointer references, or
// ErrNotFound when no activity is active.
func (s Store) ActiveKey(ctx context.Context) (string, error) {
	var key string
	err := s.DB.QueryRowContext(ctx, `SELECT session_key FROM active_session WHERE id=1`).Scan(&key)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return key, err
}

// SetActiveKey repoints the active pointer without touching drafts.
func (s Store) SetActiveKey(ctx context.Context, key string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := setActiveTx(ctx, tx, key, s.now()); err != nil {
		return err
	}
	return tx.Commit()
}

// ClearActiveKey drops the pointer entirely.
func (s Store) ClearActiveKey(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM active_session WHERE id=1`)
	return err
}

func setActiveTx(ctx context.Context, tx *sql.Tx, key, now string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO active_session(id,session_key,updated_at) VALUES (1,?,?)
		 ON CONFLICT(id) DO UPDATE SET session_key=excluded.session_key, updated_at=excluded.updated_at`,
		key, now)
	if err != nil {
		return fmt.Errorf("set active session: %w", err)
	}
	return nil
}

// EncodeDraft serializes a draft for storage.
func EncodeDraft(d domain.ActivityDraft) ([]byte, error) {
	return json.Marshal(d)
}

// DecodeDraft parses a stored payload. Callers treat a decode failure as
// "no draft", not a fatal error.
func DecodeDraft(payload []byte) (domain.ActivityDraft, error) {
	var d domain.ActivityDraft
	if err := json.Unmarshal(payload, &d); err != nil {
		return d, fmt.Errorf("decode draft: %w", err)
	}
	if d.TaskStates == nil {
		d.TaskStates = map[string]domain.TaskState{}
	}
	return d, nil
}
