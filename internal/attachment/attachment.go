package attachment

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"agora/api/internal/forum"
)

const DefaultExpiry = 15 * time.Minute

var (
	unsafeName   = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
	allowedTypes = []string{"image/", "application/pdf", "text/plain"}
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Upload is a presigned PUT the client uses to send the file straight to object storage.
type Upload struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Presigner struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

func NewPresigner(cfg Config) (*Presigner, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Presigner{client: client, bucket: cfg.Bucket, expiry: DefaultExpiry}, nil
}

// Presign issues an upload URL under a per-user key prefix.
func (p *Presigner) Presign(ctx context.Context, caller forum.Caller, filename, contentType string) (Upload, error) {
	if !caller.Authenticated() {
		return Upload{}, forum.AccessDenied("sign in to upload attachments")
	}
	name := cleanName(filename)
	if name == "" {
		return Upload{}, forum.Invalid("filename", "filename is required")
	}
	if !allowed(contentType) {
		return Upload{}, forum.Invalid("contentType", "unsupported content type: "+contentType)
	}
	key := path.Join("attachments", caller.UserID, uuid.NewString(), name)
	u, err := p.client.PresignedPutObject(ctx, p.bucket, key, p.expiry)
	if err != nil {
		return Upload{}, fmt.Errorf("presign %s: %w", key, err)
	}
	return Upload{Key: key, URL: u.String(), Method: "PUT", ExpiresAt: time.Now().UTC().Add(p.expiry)}, nil
}

func cleanName(filename string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	return strings.Trim(unsafeName.ReplaceAllString(base, "-"), "-.")
}

func allowed(contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	for _, prefix := range allowedTypes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}
