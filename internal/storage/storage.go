package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/oklog/ulid/v2"
)

// ErrUnsupportedMedia rejects uploads that are not audio recordings.
var ErrUnsupportedMedia = errors.New("storage: unsupported media type")

// sniffLen is how many leading bytes are inspected for the content type.
const sniffLen = 3072

// Config configures the bucket client.
type Config struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	Region     string
	PresignTTL time.Duration
	// MaxRecordingBytes caps PutRecording uploads.
	MaxRecordingBytes int64
}

// Storage stores recordings in an S3-compatible bucket.
type Storage struct {
	client   *minio.Client
	bucket   string
	region   string
	ttl      time.Duration
	maxBytes int64
}

// Recording describes a stored upload.
type Recording struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// New creates a client. The region is fixed so presigning never needs a
// network round trip.
func New(cfg Config) (*Storage, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, errors.New("storage: configuration incomplete")
	}
	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}
	if cfg.MaxRecordingBytes <= 0 {
		cfg.MaxRecordingBytes = 25 << 20
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	return &Storage{
		client:   client,
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		ttl:      cfg.PresignTTL,
		maxBytes: cfg.MaxRecordingBytes,
	}, nil
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.bucket
}

// MaxRecordingBytes returns the upload cap.
func (s *Storage) MaxRecordingBytes() int64 {
	return s.maxBytes
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// PresignUpload returns a URL the browser can PUT an object to.
func (s *Storage) PresignUpload(ctx context.Context, key string) (*url.URL, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("presign upload: %w", err)
	}
	return u, nil
}

// PresignDownload returns a time-limited GET URL for key.
func (s *Storage) PresignDownload(ctx context.Context, key string) (*url.URL, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.ttl, nil)
	if err != nil {
		return nil, fmt.Errorf("presign download: %w", err)
	}
	return u, nil
}

// PutRecording stores an audio upload under recordings/<user>/. The type is
// taken from the content, never from the client's declaration.
func (s *Storage) PutRecording(ctx context.Context, userID string, r io.Reader, size int64) (*Recording, error) {
	if size > s.maxBytes {
		return nil, fmt.Errorf("storage: recording exceeds %d bytes", s.maxBytes)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	head = head[:n]

	mt, ok := DetectRecording(head)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, mt.String())
	}

	key := RecordingKey(userID, mt.Extension())
	body := io.MultiReader(bytes.NewReader(head), r)

	info, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: mt.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("put recording: %w", err)
	}

	return &Recording{Key: key, ContentType: mt.String(), Size: info.Size}, nil
}

// DetectRecording sniffs head and accepts audio, plus WebM which browsers'
// MediaRecorder emits for audio-only captures.
func DetectRecording(head []byte) (*mimetype.MIME, bool) {
	mt := mimetype.Detect(head)
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "audio/") || m.Is("video/webm") {
			return mt, true
		}
	}
	return mt, false
}

// RecordingPrefix is the key prefix shared by all of a user's recordings.
func RecordingPrefix(userID string) string {
	return "recordings/" + safeSegment(userID) + "/"
}

// RecordingKey builds a unique object key for a user's recording. Keys
// under one prefix list in upload order.
func RecordingKey(userID, ext string) string {
	return RecordingPrefix(userID) + strings.ToLower(ulid.Make().String()) + ext
}

// UploadKey builds a unique object key for an admin upload, keeping a
// sanitised copy of the original file name.
func UploadKey(filename string) string {
	name := safeSegment(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	return path.Join("uploads", time.Now().UTC().Format("2006/01/02"), uuid.NewString()+"-"+name)
}

func safeSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	if len(out) > 128 {
		out = out[:128]
	}
	return out
}

func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, errors.New("empty endpoint")
	}

	// Accept either "minio:9000" or "http://minio:9000" / "https://minio:9000".
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, errors.New("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, errors.New("endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	return raw, false, nil
}
