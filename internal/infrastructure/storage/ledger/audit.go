package ledger

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/klauspost/compress/zstd"

	"ledgerbridge/internal/core/id"
	"ledgerbridge/internal/domain/posting"
)

// DefaultCompressThreshold is the payload size above which audit payloads are zstd-compressed.
const DefaultCompressThreshold = 4 * 1024

// AuditEntry is one stored source document.
type AuditEntry struct {
	ID         string    `db:"id" json:"id"`
	NaturalTag string    `db:"natural_tag" json:"natural_tag"`
	HeaderID   int64     `db:"header_id" json:"header_id"`
	Payload    []byte    `db:"payload" json:"payload"`
	Compressed bool      `db:"compressed" json:"-"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// AuditStore keeps the raw POS document next to the posted header, in the same transaction.
type AuditStore struct {
	sup       *Supervisor
	table     string
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	threshold int
	now       func() time.Time
}

var _ posting.Auditor = (*AuditStore)(nil)

// NewAuditStore creates an audit store writing to table.
func NewAuditStore(sup *Supervisor, table string) (*AuditStore, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &AuditStore{
		sup:       sup,
		table:     table,
		encoder:   encoder,
		decoder:   decoder,
		threshold: DefaultCompressThreshold,
		now:       time.Now,
	}, nil
}

// WithThreshold changes the compression threshold.
func (s *AuditStore) WithThreshold(bytes int) *AuditStore {
	s.threshold = bytes
	return s
}

// Record implements posting.Auditor.
func (s *AuditStore) Record(ctx context.Context, naturalTag string, headerID int64, raw []byte) error {
	payload := raw
	compressed := false
	if len(raw) > s.threshold {
		payload = s.encoder.EncodeAll(raw, nil)
		compressed = true
	}

	query, args, err := s.sup.Builder().
		Insert(s.table).
		Columns("id", "natural_tag", "header_id", "payload", "compressed", "created_at").
		Values(id.NewString(), naturalTag, headerID, payload, compressed, s.now().UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert: %w", err)
	}

	return s.sup.Do(ctx, func(ctx context.Context, q Querier) error {
		_, err := q.ExecContext(ctx, query, args...)
		return err
	})
}

// History returns the stored documents for naturalTag, newest first, decompressed.
func (s *AuditStore) History(ctx context.Context, naturalTag string) ([]AuditEntry, error) {
	query, args, err := s.sup.Builder().
		Select("id", "natural_tag", "header_id", "payload", "compressed", "created_at").
		From(s.table).
		Where(sq.Eq{"natural_tag": naturalTag}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit query: %w", err)
	}

	var entries []AuditEntry
	err = s.sup.Do(ctx, func(ctx context.Context, q Querier) error {
		return sqlscan.Select(ctx, q, &entries, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", err)
	}

	for i := range entries {
		if !entries[i].Compressed {
			continue
		}
		decompressed, err := s.decoder.DecodeAll(entries[i].Payload, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress audit payload: %w", err)
		}
		entries[i].Payload = decompressed
		entries[i].Compressed = false
	}
	return entries, nil
}
