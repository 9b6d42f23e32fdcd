package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"

	"github.com/Sha-Dox/coral/internal/models"
)

const maxImageBytes = 5 * 1024 * 1024

// Archiver stores copies of profile images in S3-compatible storage so a
// change event keeps pointing at the image it observed even after the
// platform rotates the CDN URL.
type Archiver struct {
	log        *slog.Logger
	client     *s3.Client
	bucket     string
	publicURL  string
	httpClient *http.Client
}

type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicURL       string
	Region          string
}

func NewArchiver(log *slog.Logger, cfg Config) (*Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("aws_config_load: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// R2 and minio speak S3 behind a custom endpoint
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Archiver{
		log:        log,
		client:     client,
		bucket:     cfg.Bucket,
		publicURL:  cfg.PublicURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// ArchiveImage downloads imageURL, normalizes it to a 512x512-bounded PNG
// and uploads it under a content-addressed key. It returns the public URL
// of the stored copy.
func (a *Archiver) ArchiveImage(ctx context.Context, platform models.Platform, username, imageURL string) (string, error) {
	data, err := a.download(ctx, imageURL)
	if err != nil {
		return "", fmt.Errorf("image_download: %w", err)
	}

	hash := sha256.Sum256(data)
	hashHex := hex.EncodeToString(hash[:16])

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("image_decode: %w", err)
	}
	img = imaging.Fit(img, 512, 512, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", fmt.Errorf("image_encode: %w", err)
	}

	objectKey := fmt.Sprintf("profiles/%s/%s/%d_%s.png", platform, username, time.Now().Unix(), hashHex)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("image/png"),
		Metadata: map[string]string{
			"platform":   string(platform),
			"username":   username,
			"source_url": imageURL,
		},
	})
	if err != nil {
		return "", fmt.Errorf("image_upload: %w", err)
	}

	a.log.Info("profile_image_archived",
		"platform", string(platform), "username", username, "key", objectKey)

	if a.publicURL != "" {
		return fmt.Sprintf("%s/%s", a.publicURL, objectKey), nil
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", a.bucket, objectKey), nil
}

func (a *Archiver) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status_%d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty_image")
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image_too_large")
	}
	return data, nil
}
