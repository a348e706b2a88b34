package events

import (
	"context"
	"log/slog"

	"github.com/ruteri/certificate-registry/interfaces"
)

// LogSink logs each event at info level.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Publish(ctx context.Context, event interfaces.Event) error {
	attrs := []any{
		slog.String("kind", string(event.Kind)),
		slog.Uint64("block", event.Block),
		slog.String("tx_hash", event.TxHash.Hex()),
	}

	switch event.Kind {
	case interfaces.InstitutionRegistered:
		attrs = append(attrs, slog.String("institution", event.Subject.String()), slog.String("name", event.Name))
	case interfaces.InstitutionVerified:
		attrs = append(attrs, slog.String("institution", event.Subject.String()), slog.Bool("verified", event.Verified))
	case interfaces.CertificateRegistered:
		attrs = append(attrs, slog.String("certificate_hash", event.CertificateHash.String()), slog.String("issuer", event.Issuer.String()))
	case interfaces.AdminTransferred:
		attrs = append(attrs, slog.String("old_admin", event.OldAdmin.String()), slog.String("new_admin", event.NewAdmin.String()))
	}

	s.log.InfoContext(ctx, "Registry event", attrs...)
	return nil
}
