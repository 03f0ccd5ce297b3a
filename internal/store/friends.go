package store

import (
	"context"
	"fmt"
)

const (
	FriendStatusPending  = "pending"
	FriendStatusAccepted = "accepted"
)

const (
	RequestTypeSent     = "sent"
	RequestTypeReceived = "received"
)

type FriendEdge struct {
	ID        int64
	UserID    string // requester
	FriendID  string // target
	Status    string
	CreatedAt int64
}

// FriendEntry is one row of a user's friend list: the counterpart user plus
// the edge status and which side initiated it.
type FriendEntry struct {
	UserID      string
	Username    string
	Status      string
	RequestType string // sent | received
}

// CreateFriendRequest inserts a pending edge from userID to friendID.
// At most one edge may exist per ordered (requester, target) pair.
func (s *Store) CreateFriendRequest(ctx context.Context, userID, friendID string, createdAt int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO friends (user_id, friend_id, status, created_at) VALUES (?, ?, ?, ?)`,
		userID, friendID, FriendStatusPending, createdAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("store: create friend request: %w", err)
	}
	return nil
}

// AcceptFriendRequest flips the pending edge requester -> target to accepted.
func (s *Store) AcceptFriendRequest(ctx context.Context, requesterID, targetID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE friends SET status = ? WHERE user_id = ? AND friend_id = ?`,
		FriendStatusAccepted, requesterID, targetID,
	)
	if err != nil {
		return fmt.Errorf("store: accept friend request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: accept friend request: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFriendEdge removes the edge requester -> target (reject / unfriend).
// Deleting a missing edge is a no-op.
func (s *Store) DeleteFriendEdge(ctx context.Context, requesterID, targetID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM friends WHERE user_id = ? AND friend_id = ?`,
		requesterID, targetID,
	)
	if err != nil {
		return fmt.Errorf("store: delete friend edge: %w", err)
	}
	return nil
}

// ListFriends returns every edge involving userID, joined with the
// counterpart user, with the request direction derived per row.
func (s *Store) ListFriends(ctx context.Context, userID string) ([]FriendEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, f.status,
		       CASE WHEN f.user_id = ? THEN 'sent' ELSE 'received' END AS request_type
		FROM friends f
		JOIN users u ON (
			CASE
				WHEN f.user_id = ? THEN f.friend_id = u.id
				ELSE f.user_id = u.id
			END
		)
		WHERE (f.user_id = ? OR f.friend_id = ?)`,
		userID, userID, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list friends: %w", err)
	}
	defer rows.Close()

	var out []FriendEntry
	for rows.Next() {
		var e FriendEntry
		if err := rows.Scan(&e.UserID, &e.Username, &e.Status, &e.RequestType); err != nil {
			return nil, fmt.Errorf("store: list friends: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list friends: %w", err)
	}
	return out, nil
}

// AcceptedFriendIDs returns the identities with an accepted edge involving
// userID, regardless of which side initiated it.
func (s *Store) AcceptedFriendIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT friend_id FROM friends WHERE user_id = ? AND status = 'accepted'
		UNION
		SELECT user_id FROM friends WHERE friend_id = ? AND status = 'accepted'`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: accepted friends: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: accepted friends: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: accepted friends: %w", err)
	}
	return out, nil
}
