package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"golang.org/x/crypto/bcrypt"
	"go.uber.org/zap"

	"github.com/watchsync/core/internal/v1/logging"
	"github.com/watchsync/core/internal/v1/metrics"
	"github.com/watchsync/core/internal/v1/room"
)

// EnsureUser idempotently upserts a user row. On storage failure it falls
// back to an in-memory user set, since the row existing is not essential to
// correctness of the in-process flow that follows.
func (s *Store) EnsureUser(ctx context.Context, userID room.UserID) {
	s.memMu.Lock()
	s.memUsers[string(userID)] = true
	s.memMu.Unlock()

	err := withRetry(s, "ensure_user", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `INSERT INTO users (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, string(userID))
		return err
	})
	if err != nil {
		metrics.StoreFallbackTotal.WithLabelValues("ensure_user").Inc()
	}
}

// RoomExists checks whether id is already taken, consulting the durable
// store first and the in-memory shadow as a fallback, since a collision
// check must be accurate against whichever half is currently authoritative.
func (s *Store) RoomExists(ctx context.Context, id room.ID) (bool, error) {
	var exists bool
	err := withRetry(s, "room_exists", func(db *sql.DB) error {
		return db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM rooms WHERE id = $1)`, string(id)).Scan(&exists)
	})
	if err == nil {
		return exists, nil
	}

	s.memMu.Lock()
	_, ok := s.memRooms[id]
	s.memMu.Unlock()
	return ok, nil
}

// CreateRoom reserves id as a new room row within a transaction. Like every
// other operation here, a durable write failure degrades to the in-memory
// shadow rather than failing the request: a freshly minted room id has never
// been seen by any other instance yet, so there is no cross-instance
// collision risk in serving it out of this process's memory alone. The
// degrade is recorded via metrics.StoreFallbackTotal so an operator can see
// when rooms are being created without a durable row.
func (s *Store) CreateRoom(ctx context.Context, id room.ID, p CreateRoomParams) (*RoomRecord, error) {
	now := time.Now().UTC()
	rec := &RoomRecord{
		ID:                 id,
		HostUserID:         p.HostUserID,
		HostFileHash:       p.FileHash,
		HostFileDurationMs: p.DurationMs,
		HostFileSize:       p.FileSize,
		Codec:              p.Codec,
		CreatedAt:          now,
		ExpiresAt:          now.AddDate(0, 0, p.ExpiresInDays),
		IsActive:           true,
	}
	if p.Passcode != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(p.Passcode), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		rec.PasscodeHash = string(hash)
	}

	codecJSON, _ := json.Marshal(p.Codec)

	err := withRetry(s, "create_room", func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `INSERT INTO users (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, string(p.HostUserID)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rooms (id, host_user_id, host_file_hash, host_file_duration_ms, host_file_size, host_file_codec, passcode_hash, created_at, expires_at, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)`,
			string(rec.ID), string(rec.HostUserID), rec.HostFileHash, rec.HostFileDurationMs, rec.HostFileSize, codecJSON, nullable(rec.PasscodeHash), rec.CreatedAt, rec.ExpiresAt,
		); err != nil {
			return err
		}
		return tx.Commit()
	})

	s.memMu.Lock()
	s.memRooms[id] = rec
	s.memMu.Unlock()

	if err != nil {
		metrics.StoreFallbackTotal.WithLabelValues("create_room").Inc()
		// Degrades to memory-only: the room is usable for the lifetime of
		// this process even though the durable row was not written.
	}
	return rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetRoom returns the durable room row, or ok=false if no such room exists.
func (s *Store) GetRoom(ctx context.Context, id room.ID) (*RoomRecord, bool, error) {
	var rec RoomRecord
	var codecJSON []byte
	var passcodeHash sql.NullString
	var closedAt sql.NullTime

	err := withRetry(s, "get_room", func(db *sql.DB) error {
		return db.QueryRowContext(ctx, `
			SELECT id, host_user_id, host_file_hash, host_file_duration_ms, host_file_size, host_file_codec, passcode_hash, created_at, expires_at, closed_at, is_active
			FROM rooms WHERE id = $1`, string(id),
		).Scan(&rec.ID, &rec.HostUserID, &rec.HostFileHash, &rec.HostFileDurationMs, &rec.HostFileSize, &codecJSON, &passcodeHash, &rec.CreatedAt, &rec.ExpiresAt, &closedAt, &rec.IsActive)
	})

	switch {
	case err == nil:
		json.Unmarshal(codecJSON, &rec.Codec)
		rec.PasscodeHash = passcodeHash.String
		if closedAt.Valid {
			t := closedAt.Time
			rec.ClosedAt = &t
		}
		s.memMu.Lock()
		s.memRooms[id] = &rec
		s.memMu.Unlock()
		return &rec, true, nil
	case err == sql.ErrNoRows:
		return nil, false, nil
	default:
		metrics.StoreFallbackTotal.WithLabelValues("get_room").Inc()
		s.memMu.Lock()
		memRec, ok := s.memRooms[id]
		s.memMu.Unlock()
		if !ok {
			return nil, false, nil
		}
		cp := *memRec
		return &cp, true, nil
	}
}

// GetRoomMeta satisfies session.MetadataStore: the slice of RoomRecord the
// Signaling Hub needs to materialize a live Room Registry entry.
func (s *Store) GetRoomMeta(ctx context.Context, id room.ID) (*room.Meta, bool, error) {
	rec, ok, err := s.GetRoom(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	if rec.Expired(time.Now()) {
		return nil, false, nil
	}
	return &room.Meta{
		HostUserID:         rec.HostUserID,
		HostFileHash:       rec.HostFileHash,
		HostFileDurationMs: rec.HostFileDurationMs,
		HostFileSize:       rec.HostFileSize,
		Codec:              rec.Codec,
	}, true, nil
}

// CloseRoomAsHost marks a room closed on behalf of callerId, enforcing that
// only the room's host may close it. Idempotent: closing an already-closed
// room succeeds without error.
func (s *Store) CloseRoomAsHost(ctx context.Context, id room.ID, callerID room.UserID) (forbidden bool, err error) {
	rec, ok, err := s.GetRoom(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, sql.ErrNoRows
	}
	if rec.HostUserID != callerID {
		return true, nil
	}
	return false, s.CloseRoom(ctx, id)
}

// CloseRoom marks a room closed unconditionally: used both by
// CloseRoomAsHost and by the Grace Timer Subsystem when a room empties out
// with no host to reclaim it. Satisfies session.MetadataStore.
func (s *Store) CloseRoom(ctx context.Context, id room.ID) error {
	now := time.Now().UTC()

	err := withRetry(s, "close_room", func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `UPDATE rooms SET is_active = FALSE, closed_at = $2 WHERE id = $1`, string(id), now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE participants SET is_connected = FALSE, left_at = $2 WHERE room_id = $1 AND is_connected`, string(id), now); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		metrics.StoreFallbackTotal.WithLabelValues("close_room").Inc()
	}

	s.memMu.Lock()
	if rec, ok := s.memRooms[id]; ok {
		rec.IsActive = false
		rec.ClosedAt = &now
	}
	s.memMu.Unlock()
	return nil
}

// AddParticipant inserts or updates the (room_id, user_id) participant row.
// Best-effort: non-essential to the live signaling path.
func (s *Store) AddParticipant(ctx context.Context, id room.ID, userID room.UserID, role room.Role) {
	now := time.Now().UTC()
	rec := &ParticipantRecord{RoomID: id, UserID: userID, Role: role, JoinedAt: now, IsConnected: true}

	err := withRetry(s, "add_participant", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO participants (room_id, user_id, role, joined_at, is_connected)
			VALUES ($1, $2, $3, $4, TRUE)
			ON CONFLICT (room_id, user_id) DO UPDATE SET is_connected = TRUE, left_at = NULL, role = EXCLUDED.role`,
			string(id), string(userID), string(role), now)
		return err
	})
	if err != nil {
		metrics.StoreFallbackTotal.WithLabelValues("add_participant").Inc()
	}

	s.memMu.Lock()
	s.memParticipants[roomKey(id, userID)] = rec
	s.memMu.Unlock()
}

// SetParticipantStatus flips a participant's connected flag, best-effort.
func (s *Store) SetParticipantStatus(ctx context.Context, id room.ID, userID room.UserID, connected bool) {
	now := time.Now().UTC()
	err := withRetry(s, "set_participant_status", func(db *sql.DB) error {
		if connected {
			_, err := db.ExecContext(ctx, `UPDATE participants SET is_connected = TRUE, left_at = NULL WHERE room_id = $1 AND user_id = $2`, string(id), string(userID))
			return err
		}
		_, err := db.ExecContext(ctx, `UPDATE participants SET is_connected = FALSE, left_at = $3 WHERE room_id = $1 AND user_id = $2`, string(id), string(userID), now)
		return err
	})
	if err != nil {
		metrics.StoreFallbackTotal.WithLabelValues("set_participant_status").Inc()
	}

	s.memMu.Lock()
	if rec, ok := s.memParticipants[roomKey(id, userID)]; ok {
		rec.IsConnected = connected
		if !connected {
			t := now
			rec.LeftAt = &t
		}
	}
	s.memMu.Unlock()
}

// GetParticipants returns the durable participant projection for a room.
func (s *Store) GetParticipants(ctx context.Context, id room.ID) ([]ParticipantRecord, error) {
	var out []ParticipantRecord
	err := withRetry(s, "get_participants", func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `SELECT room_id, user_id, role, joined_at, left_at, is_connected, COALESCE(connection_id, '') FROM participants WHERE room_id = $1`, string(id))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p ParticipantRecord
			var leftAt sql.NullTime
			if err := rows.Scan(&p.RoomID, &p.UserID, &p.Role, &p.JoinedAt, &leftAt, &p.IsConnected, &p.ConnectionID); err != nil {
				return err
			}
			if leftAt.Valid {
				t := leftAt.Time
				p.LeftAt = &t
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	if err != nil {
		metrics.StoreFallbackTotal.WithLabelValues("get_participants").Inc()
		s.memMu.Lock()
		defer s.memMu.Unlock()
		var fallback []ParticipantRecord
		for k, p := range s.memParticipants {
			if len(k) > len(string(id)) && k[:len(string(id))] == string(id) {
				fallback = append(fallback, *p)
			}
		}
		return fallback, nil
	}
	return out, nil
}

// AppendEvent records one Room Event Log row. Best-effort and fire-and-
// forget: loss does not affect correctness of the live system.
func (s *Store) AppendEvent(ctx context.Context, id room.ID, userID room.UserID, eventType string, payload any) {
	payloadJSON, _ := json.Marshal(payload)
	err := withRetry(s, "append_event", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `INSERT INTO room_events (room_id, user_id, event_type, payload) VALUES ($1, $2, $3, $4)`,
			string(id), string(userID), eventType, payloadJSON)
		return err
	})
	if err != nil {
		metrics.StoreFallbackTotal.WithLabelValues("append_event").Inc()
	}
}

// SweepExpiredRooms marks every durable room past its expires_at as
// inactive in one pass, the periodic half of the lazy expiry the Admission
// Service already enforces on validate/rejoin. Best-effort: a storage
// failure here just means expiry stays lazy-only until the next successful
// sweep.
func (s *Store) SweepExpiredRooms(ctx context.Context) (int, error) {
	var affected int64
	durableErr := withRetry(s, "sweep_expired_rooms", func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `UPDATE rooms SET is_active = FALSE, closed_at = NOW() WHERE is_active AND expires_at < NOW()`)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if durableErr != nil {
		metrics.StoreFallbackTotal.WithLabelValues("sweep_expired_rooms").Inc()
	}

	now := time.Now().UTC()
	var memSwept int
	s.memMu.Lock()
	for _, rec := range s.memRooms {
		if rec.IsActive && now.After(rec.ExpiresAt) {
			rec.IsActive = false
			rec.ClosedAt = &now
			memSwept++
		}
	}
	s.memMu.Unlock()

	if durableErr != nil {
		return memSwept, durableErr
	}
	return int(affected), nil
}

// RunSweep blocks, sweeping expired rooms every interval until ctx is
// cancelled. Intended to run in its own goroutine for the lifetime of the
// process.
func (s *Store) RunSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepExpiredRooms(ctx); err != nil {
				logging.Warn(ctx, "room expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// CheckPasscode compares a candidate passcode against the room's stored
// hash in constant time via bcrypt. A room with no passcode always passes.
func (rec *RoomRecord) CheckPasscode(candidate string) bool {
	if rec.PasscodeHash == "" {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(rec.PasscodeHash), []byte(candidate)) == nil
}
