package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ruteri/certificate-registry/interfaces"
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL stores.
// The dialects differ only in placeholders and in how a unique violation is reported.
type sqlStore struct {
	db              *sql.DB
	insertQuery     string
	selectQuery     string
	uniqueViolation func(error) bool
}

const recordColumns = `certificate_hash, student_name, issue_date, issuer, transaction_hash,
    document_id, document_name, media_type, created_at`

func (s *sqlStore) SaveRecord(ctx context.Context, record interfaces.CertificateRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record.Hash.IsZero() {
		return fmt.Errorf("save record: %w", interfaces.ErrInvalidHash)
	}
	record = normalize(record)

	_, err := s.db.ExecContext(ctx, s.insertQuery,
		record.Hash.String(),
		record.StudentName,
		strconv.FormatUint(record.IssueDate, 10),
		record.Issuer.String(),
		record.TxHash.Hex(),
		record.DocumentID.String(),
		record.DocumentName,
		record.MediaType,
		record.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if s.uniqueViolation(err) {
			return interfaces.ErrRecordExists
		}
		return fmt.Errorf("save record %s: %w", record.Hash, err)
	}
	return nil
}

func (s *sqlStore) RecordByHash(ctx context.Context, hash interfaces.CertificateHash) (interfaces.CertificateRecord, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.CertificateRecord{}, err
	}

	var (
		hashHex, issueDate, issuer, txHash, documentID string
		record                                         interfaces.CertificateRecord
		createdAt                                      int64
	)
	err := s.db.QueryRowContext(ctx, s.selectQuery, hash.String()).Scan(
		&hashHex,
		&record.StudentName,
		&issueDate,
		&issuer,
		&txHash,
		&documentID,
		&record.DocumentName,
		&record.MediaType,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.CertificateRecord{}, interfaces.ErrRecordNotFound
	}
	if err != nil {
		return interfaces.CertificateRecord{}, fmt.Errorf("get record %s: %w", hash, err)
	}

	if record.Hash, err = interfaces.NewCertificateHashFromHex(hashHex); err != nil {
		return interfaces.CertificateRecord{}, fmt.Errorf("decode record hash: %w", err)
	}
	if record.IssueDate, err = strconv.ParseUint(issueDate, 10, 64); err != nil {
		return interfaces.CertificateRecord{}, fmt.Errorf("decode issue date: %w", err)
	}
	if record.Issuer, err = interfaces.NewIdentityFromHex(issuer); err != nil {
		return interfaces.CertificateRecord{}, fmt.Errorf("decode issuer: %w", err)
	}
	if record.DocumentID, err = interfaces.NewContentIDFromHex(documentID); err != nil {
		return interfaces.CertificateRecord{}, fmt.Errorf("decode document id: %w", err)
	}
	record.TxHash = common.HexToHash(txHash)
	record.CreatedAt = time.UnixMilli(createdAt).UTC()

	return record, nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// normalize fills CreatedAt and truncates it to the millisecond precision
// every store keeps.
func normalize(record interfaces.CertificateRecord) interfaces.CertificateRecord {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	record.CreatedAt = time.UnixMilli(record.CreatedAt.UnixMilli()).UTC()
	return record
}
