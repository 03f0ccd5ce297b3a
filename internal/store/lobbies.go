package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type Lobby struct {
	ID           string
	HostID       string
	HostUsername string
	PlayerCount  int
	MaxPlayers   int
	CreatedAt    int64
}

func (s *Store) CreateLobby(ctx context.Context, l Lobby) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lobbies (id, host_id, host_username, player_count, max_players, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.HostID, l.HostUsername, l.PlayerCount, l.MaxPlayers, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create lobby: %w", err)
	}
	return nil
}

func (s *Store) Lobby(ctx context.Context, id string) (Lobby, error) {
	var l Lobby
	err := s.db.QueryRowContext(ctx,
		`SELECT id, host_id, host_username, player_count, max_players, created_at
		 FROM lobbies WHERE id = ?`, id,
	).Scan(&l.ID, &l.HostID, &l.HostUsername, &l.PlayerCount, &l.MaxPlayers, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Lobby{}, ErrNotFound
	}
	if err != nil {
		return Lobby{}, fmt.Errorf("store: get lobby: %w", err)
	}
	return l, nil
}

// AddLobbyPlayer increments player_count if and only if the lobby exists and
// has a free slot. The condition and the increment are one UPDATE statement,
// so concurrent joins against the last slot serialize in the database and
// exactly one succeeds.
func (s *Store) AddLobbyPlayer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE lobbies SET player_count = player_count + 1
		 WHERE id = ? AND player_count < max_players`, id,
	)
	if err != nil {
		return fmt.Errorf("store: add lobby player: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: add lobby player: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Zero rows means either the lobby is gone or it is full.
	if _, err := s.Lobby(ctx, id); errors.Is(err, ErrNotFound) {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return ErrLobbyFull
}

// DeleteLobby removes the lobby only when hostID matches its host. It
// reports whether a row was deleted; a non-host caller deletes nothing.
func (s *Store) DeleteLobby(ctx context.Context, id, hostID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM lobbies WHERE id = ? AND host_id = ?`, id, hostID,
	)
	if err != nil {
		return false, fmt.Errorf("store: delete lobby: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: delete lobby: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListLobbies(ctx context.Context) ([]Lobby, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, host_id, host_username, player_count, max_players, created_at
		 FROM lobbies ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list lobbies: %w", err)
	}
	defer rows.Close()

	var out []Lobby
	for rows.Next() {
		var l Lobby
		if err := rows.Scan(&l.ID, &l.HostID, &l.HostUsername, &l.PlayerCount, &l.MaxPlayers, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: list lobbies: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list lobbies: %w", err)
	}
	return out, nil
}
