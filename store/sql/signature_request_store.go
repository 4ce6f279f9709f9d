package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-signatures/core"
	"github.com/uptrace/bun"
)

// SignatureRequestStore persists the aggregate and its challenges in one transaction.
type SignatureRequestStore struct {
	db    *bun.DB
	codes core.CodeSealer
}

func NewSignatureRequestStore(db *bun.DB) (*SignatureRequestStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &SignatureRequestStore{db: db}, nil
}

// WithCodeSealer stores challenge codes sealed instead of in plaintext.
func (s *SignatureRequestStore) WithCodeSealer(sealer core.CodeSealer) *SignatureRequestStore {
	if s != nil {
		s.codes = sealer
	}
	return s
}

func (s *SignatureRequestStore) Save(ctx context.Context, req *core.SignatureRequest) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: signature request store is not configured")
	}
	if req == nil {
		return fmt.Errorf("sqlstore: signature request is nil")
	}
	record := newSignatureRequestRecord(req.Snapshot())
	if err := s.sealCodes(ctx, record); err != nil {
		return err
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().
			Model(record).
			On("CONFLICT (id) DO UPDATE").
			Set("status = EXCLUDED.status").
			Set("timeline = EXCLUDED.timeline").
			Set("abort_reason = EXCLUDED.abort_reason").
			Set("updated_at = EXCLUDED.updated_at").
			Set("signed_at = EXCLUDED.signed_at").
			Set("aborted_at = EXCLUDED.aborted_at").
			Exec(ctx); err != nil {
			return fmt.Errorf("sqlstore: save signature request %s: %w", record.ID, err)
		}
		// Challenges only ever move forward, so earlier rows settle before a newer
		// active one is written and the one-active index is never violated.
		for _, challenge := range record.Challenges {
			if _, err := tx.NewInsert().
				Model(challenge).
				On("CONFLICT (id) DO UPDATE").
				Set("status = EXCLUDED.status").
				Set("provider_proof = EXCLUDED.provider_proof").
				Set("error_code = EXCLUDED.error_code").
				Set("error_message = EXCLUDED.error_message").
				Set("sent_at = EXCLUDED.sent_at").
				Set("completed_at = EXCLUDED.completed_at").
				Exec(ctx); err != nil {
				return fmt.Errorf("sqlstore: save challenge %s: %w", challenge.ID, err)
			}
		}
		return nil
	})
}

func (s *SignatureRequestStore) Get(ctx context.Context, id string) (*core.SignatureRequest, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: signature request store is not configured")
	}
	trimmed := strings.TrimSpace(id)
	record := &signatureRequestRecord{}
	err := s.db.NewSelect().
		Model(record).
		Relation("Challenges", orderChallenges).
		Where("?TableAlias.id = ?", trimmed).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrSignatureRequestNotFound, trimmed)
		}
		return nil, err
	}
	if err := s.openCodes(ctx, record); err != nil {
		return nil, err
	}
	return core.RestoreSignatureRequest(record.toSnapshot())
}

func (s *SignatureRequestStore) ListByStatus(ctx context.Context, status core.RequestStatus, limit int) ([]*core.SignatureRequest, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: signature request store is not configured")
	}
	var records []*signatureRequestRecord
	query := s.db.NewSelect().
		Model(&records).
		Relation("Challenges", orderChallenges).
		Where("?TableAlias.status = ?", string(status)).
		OrderExpr("?TableAlias.created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}

	out := make([]*core.SignatureRequest, 0, len(records))
	for _, record := range records {
		if err := s.openCodes(ctx, record); err != nil {
			return nil, err
		}
		req, err := core.RestoreSignatureRequest(record.toSnapshot())
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

func (s *SignatureRequestStore) sealCodes(ctx context.Context, record *signatureRequestRecord) error {
	if s.codes == nil {
		return nil
	}
	for _, challenge := range record.Challenges {
		sealed, err := s.codes.Seal(ctx, challenge.Code)
		if err != nil {
			return fmt.Errorf("sqlstore: seal challenge %s code: %w", challenge.ID, err)
		}
		challenge.Code = sealed
	}
	return nil
}

func (s *SignatureRequestStore) openCodes(ctx context.Context, record *signatureRequestRecord) error {
	if s.codes == nil {
		return nil
	}
	for _, challenge := range record.Challenges {
		if challenge == nil {
			continue
		}
		code, err := s.codes.Open(ctx, challenge.Code)
		if err != nil {
			return fmt.Errorf("sqlstore: open challenge %s code: %w", challenge.ID, err)
		}
		challenge.Code = code
	}
	return nil
}

func orderChallenges(q *bun.SelectQuery) *bun.SelectQuery {
	return q.OrderExpr("?TableAlias.seq ASC")
}
