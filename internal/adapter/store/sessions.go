package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

var _ port.SessionStore = (*BoltStore)(nil)

// AppendTurn appends a turn to the session, creating it if needed.
func (s *BoltStore) AppendTurn(ctx context.Context, sessionID string, turn domain.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sessionID == "" {
		return fmt.Errorf("session id must not be empty")
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketSessions).CreateBucketIfNotExists([]byte(sessionID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// LastTurns returns up to n most recent turns of the session, oldest first.
// n <= 0 returns every turn. An unknown session has no turns.
func (s *BoltStore) LastTurns(ctx context.Context, sessionID string, n int) ([]domain.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var turns []domain.Turn
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSessions).Bucket([]byte(sessionID))
		if b == nil {
			return nil
		}

		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if n > 0 && len(turns) == n {
				break
			}
			var t domain.Turn
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("corrupt turn in session %s: %w", sessionID, err)
			}
			turns = append(turns, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Collected newest first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// DeleteSession removes all turns of a session.
func (s *BoltStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		err := tx.Bucket(bucketSessions).DeleteBucket([]byte(sessionID))
		if err == bbolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
