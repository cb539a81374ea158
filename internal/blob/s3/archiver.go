package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/alanyoungcy/hedgerisk/internal/domain"
)

// SettlementArchiver writes each reconciliation result as a JSON object
// under <prefix>/<yyyy>/<mm>/<dd>/<position>/<unix>.json.
type SettlementArchiver struct {
	writer domain.BlobWriter
	prefix string
}

// NewSettlementArchiver creates an archiver. An empty prefix defaults to
// "settlements".
func NewSettlementArchiver(w domain.BlobWriter, prefix string) *SettlementArchiver {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "settlements"
	}
	return &SettlementArchiver{writer: w, prefix: prefix}
}

// Archive uploads rec.
func (a *SettlementArchiver) Archive(ctx context.Context, rec domain.SettlementRecord) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("s3blob: marshal settlement %s: %w", rec.PositionID, err)
	}
	key := a.Key(rec)
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive settlement %s: %w", rec.PositionID, err)
	}
	return nil
}

// Key returns the object key rec is stored under.
func (a *SettlementArchiver) Key(rec domain.SettlementRecord) string {
	at := rec.ReconciledAt.UTC()
	return path.Join(a.prefix, at.Format("2006/01/02"), rec.PositionID, fmt.Sprintf("%d.json", at.Unix()))
}

var _ domain.SettlementArchiver = (*SettlementArchiver)(nil)
