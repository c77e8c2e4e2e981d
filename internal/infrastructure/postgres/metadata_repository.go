package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/sat-descarga-masiva/internal/domain/entity"
	"github.com/jhoicas/sat-descarga-masiva/internal/domain/repository"
)

var _ repository.MetadataRepository = (*MetadataRepo)(nil)

// MetadataRepo renglones de metadata de CFDI, uno por UUID.
type MetadataRepo struct {
	q Querier
}

// NewMetadataRepository construye el adaptador. Pasar pool o tx (Querier).
func NewMetadataRepository(q Querier) *MetadataRepo {
	return &MetadataRepo{q: q}
}

const upsertMetadata = `
	INSERT INTO cfdi_metadata (uuid, request_id, issuer_rfc, issuer_name, receiver_rfc, receiver_name, pac_rfc,
		issued_at, certified_at, amount, effect, status, cancelled_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (uuid) DO UPDATE SET
		request_id = EXCLUDED.request_id, status = EXCLUDED.status, cancelled_at = EXCLUDED.cancelled_at`

// SaveBatch inserta los renglones en un solo viaje. Un UUID repetido actualiza estatus y cancelación.
func (r *MetadataRepo) SaveBatch(ctx context.Context, records []*entity.CFDIMetadata) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range records {
		batch.Queue(upsertMetadata,
			m.UUID, nullIfEmpty(m.RequestID), nullIfEmpty(m.IssuerRFC), nullIfEmpty(m.IssuerName),
			nullIfEmpty(m.ReceiverRFC), nullIfEmpty(m.ReceiverName), nullIfEmpty(m.PacRFC),
			nullIfZero(m.IssuedAt), nullIfZero(m.CertifiedAt), m.Amount,
			nullIfEmpty(m.Effect), nullIfEmpty(m.Status), m.CancelledAt,
		)
	}
	br := r.q.SendBatch(ctx, batch)
	defer br.Close()
	for i := range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert metadata %s: %w", records[i].UUID, err)
		}
	}
	return nil
}

// ListByRequest renglones de la solicitud ordenados por fecha de emisión.
func (r *MetadataRepo) ListByRequest(ctx context.Context, requestID string) ([]*entity.CFDIMetadata, error) {
	query := `
		SELECT uuid, request_id, issuer_rfc, issuer_name, receiver_rfc, receiver_name, pac_rfc,
		       issued_at, certified_at, amount, effect, status, cancelled_at
		FROM cfdi_metadata WHERE request_id = $1 ORDER BY issued_at, uuid`
	rows, err := r.q.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", err)
	}
	defer rows.Close()

	var list []*entity.CFDIMetadata
	for rows.Next() {
		var (
			m                                   entity.CFDIMetadata
			reqID, issuer, issuerName, receiver *string
			receiverName, pac, effect, status   *string
			issuedAt, certifiedAt               *time.Time
		)
		if err := rows.Scan(&m.UUID, &reqID, &issuer, &issuerName, &receiver, &receiverName, &pac,
			&issuedAt, &certifiedAt, &m.Amount, &effect, &status, &m.CancelledAt); err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		m.RequestID = fromNullable(reqID)
		m.IssuerRFC = fromNullable(issuer)
		m.IssuerName = fromNullable(issuerName)
		m.ReceiverRFC = fromNullable(receiver)
		m.ReceiverName = fromNullable(receiverName)
		m.PacRFC = fromNullable(pac)
		m.Effect = fromNullable(effect)
		m.Status = fromNullable(status)
		if issuedAt != nil {
			m.IssuedAt = *issuedAt
		}
		if certifiedAt != nil {
			m.CertifiedAt = *certifiedAt
		}
		list = append(list, &m)
	}
	return list, rows.Err()
}
