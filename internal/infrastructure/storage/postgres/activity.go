package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	appcontext "stocklot/internal/core/context"
	"stocklot/internal/core/id"
	"stocklot/internal/domain/activity"
)

// CompressionAlgo specifies the compression algorithm used.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// ActivityStore persists activity entries into activity_log, compressing
// large change payloads with zstd.
type ActivityStore struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

var (
	_ activity.Sink    = (*ActivityStore)(nil)
	_ activity.History = (*ActivityStore)(nil)
)

// NewActivityStore creates a new activity store.
func NewActivityStore(txManager *TxManager) (*ActivityStore, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &ActivityStore{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: 10 * 1024,
	}, nil
}

// Record implements activity.Sink.
func (s *ActivityStore) Record(ctx context.Context, e activity.Entry) error {
	actor := e.Actor
	if actor == "" {
		actor = appcontext.GetActor(ctx)
	}

	var changes []byte
	if len(e.Changes) > 0 {
		var err error
		changes, err = json.Marshal(e.Changes)
		if err != nil {
			return fmt.Errorf("marshal changes: %w", err)
		}
	}

	algo := CompressionNone
	var compressed []byte
	if len(changes) > s.compressThreshold {
		compressed = s.encoder.EncodeAll(changes, nil)
		changes = nil
		algo = CompressionZstd
	}

	sql := `
		INSERT INTO activity_log (
			id, action, branch_id, entity_id, actor,
			changes, changes_compressed, compression_algo, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	querier := s.txManager.GetQuerier(ctx)
	_, err := querier.Exec(ctx, sql,
		id.New(), string(e.Action), e.BranchID, e.EntityID, actor,
		changes, compressed, string(algo), time.Now().UTC(),
	)
	return err
}

// EntityHistory returns recent activity entries for an entity, newest first,
// with compressed payloads inflated.
func (s *ActivityStore) EntityHistory(ctx context.Context, entityID id.ID, limit int) ([]activity.Entry, error) {
	sql := `
		SELECT action, branch_id, entity_id, actor,
		       changes, changes_compressed, compression_algo
		FROM activity_log
		WHERE entity_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.txManager.GetQuerier(ctx).Query(ctx, sql, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity history: %w", err)
	}
	defer rows.Close()

	var entries []activity.Entry
	for rows.Next() {
		var (
			e          activity.Entry
			action     string
			changes    []byte
			compressed []byte
			algo       string
		)
		if err := rows.Scan(&action, &e.BranchID, &e.EntityID, &e.Actor, &changes, &compressed, &algo); err != nil {
			return nil, fmt.Errorf("scan activity entry: %w", err)
		}
		e.Action = activity.Action(action)

		if CompressionAlgo(algo) == CompressionZstd && len(compressed) > 0 {
			changes, err = s.decoder.DecodeAll(compressed, nil)
			if err != nil {
				return nil, fmt.Errorf("decompress changes: %w", err)
			}
		}
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &e.Changes); err != nil {
				return nil, fmt.Errorf("unmarshal changes: %w", err)
			}
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}
