package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/sat-descarga-masiva/internal/domain"
	"github.com/jhoicas/sat-descarga-masiva/internal/domain/entity"
	"github.com/jhoicas/sat-descarga-masiva/internal/domain/repository"
)

var _ repository.DownloadRequestRepository = (*DownloadRequestRepo)(nil)

// DownloadRequestRepo implementación de DownloadRequestRepository (usable con pool o tx).
type DownloadRequestRepo struct {
	q Querier
}

// NewDownloadRequestRepository construye el adaptador. Pasar pool o tx (Querier).
func NewDownloadRequestRepository(q Querier) *DownloadRequestRepo {
	return &DownloadRequestRepo{q: q}
}

const downloadRequestColumns = `id, company_id, rfc, service, kind, request_type, start_date, end_date,
	issuer_rfc, receiver_rfc, document_type, document_status, third_party_rfc, complement, folio,
	sat_request_id, status, polls, number_of_items, package_ids, last_code, last_message, created_at, updated_at`

// Create persiste una nueva solicitud.
func (r *DownloadRequestRepo) Create(ctx context.Context, req *entity.DownloadRequest) error {
	query := `INSERT INTO download_requests (` + downloadRequestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`
	_, err := r.q.Exec(ctx, query,
		req.ID, req.CompanyID, req.RFC, req.Service, req.Kind, req.RequestType,
		nullIfZero(req.StartDate), nullIfZero(req.EndDate),
		nullIfEmpty(req.IssuerRFC), nullIfEmpty(req.ReceiverRFC), nullIfEmpty(req.DocumentType),
		nullIfEmpty(req.DocumentStatus), nullIfEmpty(req.ThirdPartyRFC), nullIfEmpty(req.Complement),
		nullIfEmpty(req.Folio), nullIfEmpty(req.SATRequestID), req.Status, req.Polls, req.NumberOfItems,
		packageIDs(req.PackageIDs), nullIfEmpty(req.LastCode), nullIfEmpty(req.LastMessage),
		req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert download request: %w", err)
	}
	return nil
}

// Update guarda el avance de la solicitud. Los filtros no cambian después de creada.
func (r *DownloadRequestRepo) Update(ctx context.Context, req *entity.DownloadRequest) error {
	query := `
		UPDATE download_requests
		SET sat_request_id = $2, status = $3, polls = $4, number_of_items = $5, package_ids = $6,
		    last_code = $7, last_message = $8, updated_at = $9
		WHERE id = $1`
	cmd, err := r.q.Exec(ctx, query,
		req.ID, nullIfEmpty(req.SATRequestID), req.Status, req.Polls, req.NumberOfItems,
		packageIDs(req.PackageIDs), nullIfEmpty(req.LastCode), nullIfEmpty(req.LastMessage), req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update download request: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID obtiene una solicitud por ID; nil si no existe.
func (r *DownloadRequestRepo) GetByID(ctx context.Context, id string) (*entity.DownloadRequest, error) {
	query := `SELECT ` + downloadRequestColumns + ` FROM download_requests WHERE id = $1`
	req, err := scanDownloadRequest(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get download request: %w", err)
	}
	return req, nil
}

// ListByCompany lista solicitudes de la empresa, más recientes primero.
func (r *DownloadRequestRepo) ListByCompany(ctx context.Context, companyID string, limit, offset int) ([]*entity.DownloadRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + downloadRequestColumns + `
		FROM download_requests WHERE company_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.q.Query(ctx, query, companyID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list download requests: %w", err)
	}
	defer rows.Close()

	var list []*entity.DownloadRequest
	for rows.Next() {
		req, err := scanDownloadRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan download request: %w", err)
		}
		list = append(list, req)
	}
	return list, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDownloadRequest(row rowScanner) (*entity.DownloadRequest, error) {
	var (
		req                                              entity.DownloadRequest
		start, end                                       *time.Time
		issuer, receiver, docType, docStatus, thirdParty *string
		complement, folio, satID, lastCode, lastMessage  *string
	)
	err := row.Scan(
		&req.ID, &req.CompanyID, &req.RFC, &req.Service, &req.Kind, &req.RequestType, &start, &end,
		&issuer, &receiver, &docType, &docStatus, &thirdParty, &complement, &folio,
		&satID, &req.Status, &req.Polls, &req.NumberOfItems, &req.PackageIDs, &lastCode, &lastMessage,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if start != nil {
		req.StartDate = *start
	}
	if end != nil {
		req.EndDate = *end
	}
	req.IssuerRFC = fromNullable(issuer)
	req.ReceiverRFC = fromNullable(receiver)
	req.DocumentType = fromNullable(docType)
	req.DocumentStatus = fromNullable(docStatus)
	req.ThirdPartyRFC = fromNullable(thirdParty)
	req.Complement = fromNullable(complement)
	req.Folio = fromNullable(folio)
	req.SATRequestID = fromNullable(satID)
	req.LastCode = fromNullable(lastCode)
	req.LastMessage = fromNullable(lastMessage)
	return &req, nil
}

// packageIDs evita NULL en la columna TEXT[] NOT NULL.
func packageIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
