package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/carpoolhq/settlement-engine/internal/models"
)

// ReportStore exports daily ledger snapshots as CSV files in S3 for the
// finance team.
type ReportStore struct {
	uploader *s3manager.Uploader
	bucket   string
	log      *slog.Logger
}

func NewReportStore(bucket string, log *slog.Logger) (*ReportStore, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return &ReportStore{
		uploader: s3manager.NewUploader(sess),
		bucket:   bucket,
		log:      log,
	}, nil
}

// ExportDailySettlements writes one CSV of the day's ledger rows and returns
// the object key. Overwriting an existing object makes re-runs safe.
func (r *ReportStore) ExportDailySettlements(ctx context.Context, day time.Time, details []models.EscrowDetail) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"id", "escrow_id", "activity", "fund", "offer_id", "transaction_id", "created_on"})
	for _, d := range details {
		w.Write([]string{
			strconv.FormatUint(uint64(d.ID), 10),
			strconv.FormatUint(uint64(d.EscrowID), 10),
			d.ActivityType.String(),
			strconv.FormatFloat(d.Fund, 'f', 2, 64),
			strconv.FormatUint(uint64(d.OfferID), 10),
			d.TransactionID,
			d.CreatedOn.UTC().Format(time.RFC3339),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	key := fmt.Sprintf("reports/settlements/%s.csv", day.Format("2006-01-02"))
	_, err := r.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", fmt.Errorf("upload report: %w", err)
	}
	r.log.Info("settlement report exported", "bucket", r.bucket, "key", key, "rows", len(details))
	return key, nil
}
