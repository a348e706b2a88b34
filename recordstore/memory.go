package recordstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/ruteri/certificate-registry/interfaces"
)

// Memory keeps certificate records in a map. Used for tests and the
// in-memory registry mode.
type Memory struct {
	mu      sync.RWMutex
	records map[interfaces.CertificateHash]interfaces.CertificateRecord
}

func NewMemory() *Memory {
	return &Memory{records: make(map[interfaces.CertificateHash]interfaces.CertificateRecord)}
}

func (m *Memory) SaveRecord(ctx context.Context, record interfaces.CertificateRecord) error {
	if record.Hash.IsZero() {
		return fmt.Errorf("save record: %w", interfaces.ErrInvalidHash)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[record.Hash]; ok {
		return interfaces.ErrRecordExists
	}
	m.records[record.Hash] = normalize(record)
	return nil
}

func (m *Memory) RecordByHash(ctx context.Context, hash interfaces.CertificateHash) (interfaces.CertificateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[hash]
	if !ok {
		return interfaces.CertificateRecord{}, interfaces.ErrRecordNotFound
	}
	return record, nil
}

func (m *Memory) Close() error {
	return nil
}
