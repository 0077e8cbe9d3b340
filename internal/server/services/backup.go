package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/gophvault/internal/clock"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	sc "github.com/dmitrijs2005/gophvault/internal/server/config"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/repomanager"
	"github.com/oklog/ulid/v2"
)

const snapshotLinkValidity = 15 * time.Minute

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in, optFns...)
	}

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// Snapshot describes an uploaded export.
type Snapshot struct {
	Key         string
	URL         string
	Credentials int
	TakenAt     time.Time
}

type snapshotDoc struct {
	TakenAt     time.Time            `json:"taken_at"`
	Credentials []snapshotCredential `json:"credentials"`
}

type snapshotCredential struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	ApplicationName string    `json:"application_name"`
	Username        string    `json:"username"`
	Email           *string   `json:"email,omitempty"`
	Ciphertext      string    `json:"ciphertext"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// BackupService exports every credential, still encrypted, to S3-compatible
// storage and hands back a short-lived download link.
type BackupService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	clock       clock.Clock
	log         logging.Logger
}

// NewBackupService constructs a BackupService that uploads snapshots to the
// bucket named in cfg.
func NewBackupService(db *sql.DB, m repomanager.RepositoryManager, cfg *sc.Config, clk clock.Clock, log logging.Logger) *BackupService {
	return &BackupService{
		db:          db,
		repomanager: m,
		config:      cfg,
		clock:       clk,
		log:         log.With("module", "backup"),
	}
}

// SnapshotKey returns a time-sortable object key for a snapshot taken at t.
func SnapshotKey(t time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy())
	return fmt.Sprintf("snapshots/%04d/%02d/%02d/%s.json", t.Year(), t.Month(), t.Day(), id)
}

func (s *BackupService) getClient(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
		o.UsePathStyle = true
	}), nil
}

// ExportSnapshot uploads all credentials (ciphertext only). Admin only.
func (s *BackupService) ExportSnapshot(ctx context.Context, p models.Principal) (*Snapshot, error) {
	if !p.IsAdmin {
		return nil, common.ErrNotAuthorized
	}

	creds, err := s.repomanager.Credentials(s.db).ListAll(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	doc := snapshotDoc{TakenAt: now, Credentials: make([]snapshotCredential, 0, len(creds))}
	for _, c := range creds {
		doc.Credentials = append(doc.Credentials, snapshotCredential{
			ID: c.ID, OwnerID: c.OwnerID, ApplicationName: c.ApplicationName, Username: c.Username,
			Email: c.Email, Ciphertext: c.Ciphertext, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt,
		})
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	client, err := s.getClient(ctx)
	if err != nil {
		return nil, err
	}

	bucket := s.config.S3Bucket
	key := SnapshotKey(now)

	if _, err := putObject(client, ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return nil, fmt.Errorf("upload snapshot: %w", err)
	}

	req, err := presignGetObject(newS3PresignClient(client), ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(snapshotLinkValidity))
	if err != nil {
		return nil, fmt.Errorf("presign snapshot: %w", err)
	}

	s.log.Info(ctx, "snapshot exported", "key", key, "credentials", len(creds), "admin_id", p.UserID)
	return &Snapshot{Key: key, URL: req.URL, Credentials: len(creds), TakenAt: now}, nil
}
