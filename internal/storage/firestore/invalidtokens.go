package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-session/pkg/push"
)

const invalidTokensCollection = "invalid-push-tokens"

// InvalidTokenStore implements dispatch.InvalidTokenStore using Google Cloud
// Firestore. Use it when suppression must survive a cache flush.
type InvalidTokenStore struct {
	client *firestore.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewInvalidTokenStore(client *firestore.Client, ttl time.Duration) *InvalidTokenStore {
	return &InvalidTokenStore{client: client, ttl: ttl, now: time.Now}
}

// invalidRecord is the internal DB representation.
type invalidRecord struct {
	Token      string    `firestore:"token"`
	Reason     string    `firestore:"reason"`
	RejectedAt time.Time `firestore:"rejected_at"`
	ExpireAt   time.Time `firestore:"expire_at"`
}

func (s *InvalidTokenStore) MarkInvalid(ctx context.Context, token push.Token, reason push.FatalReason) error {
	token = canonical(token)
	now := s.now().UTC()
	record := invalidRecord{
		Token:      token.String(),
		Reason:     reason.String(),
		RejectedAt: now,
		ExpireAt:   now.Add(s.ttl),
	}
	if _, err := s.tokenRef(token).Set(ctx, record); err != nil {
		return fmt.Errorf("failed to mark token invalid: %w", err)
	}
	return nil
}

func (s *InvalidTokenStore) IsInvalid(ctx context.Context, token push.Token) (bool, error) {
	doc, err := s.tokenRef(canonical(token)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up token: %w", err)
	}
	var record invalidRecord
	if err := doc.DataTo(&record); err != nil {
		return false, fmt.Errorf("corrupt invalid token record: %w", err)
	}
	return s.now().Before(record.ExpireAt), nil
}

func (s *InvalidTokenStore) Forget(ctx context.Context, token push.Token) error {
	_, err := s.tokenRef(canonical(token)).Delete(ctx)
	return err
}

// Purge deletes expired records and returns how many were removed.
func (s *InvalidTokenStore) Purge(ctx context.Context) (int, error) {
	iter := s.client.Collection(invalidTokensCollection).
		Where("expire_at", "<=", s.now().UTC()).
		Documents(ctx)
	defer iter.Stop()

	removed := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return removed, fmt.Errorf("firestore iteration failed: %w", err)
		}
		if _, err := doc.Ref.Delete(ctx); err != nil {
			return removed, fmt.Errorf("failed to delete %s: %w", doc.Ref.ID, err)
		}
		removed++
	}
	return removed, nil
}

// tokenRef: invalid-push-tokens/{tokenHash}
func (s *InvalidTokenStore) tokenRef(token push.Token) *firestore.DocumentRef {
	return s.client.Collection(invalidTokensCollection).Doc(hashToken(token.String()))
}

func canonical(token push.Token) push.Token {
	if c, err := token.Normalize(); err == nil {
		return c
	}
	return token
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
