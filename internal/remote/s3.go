package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/dmitrijs2005/skysync/internal/common"
	"github.com/dmitrijs2005/skysync/internal/fingerprint"
)

// S3 part size limits for non-final parts.
const (
	s3MinChunkSize = 5 << 20
	s3MaxChunkSize = 5 << 30
)

// casPrefix is the key namespace of content-addressed copies used for
// instant registration: every completed upload with a known fingerprint is
// also reachable at cas/<content_md5>.
const casPrefix = "cas/"

// S3Config carries the settings needed to reach an S3-compatible store.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// S3Backend implements Backend on top of an S3-compatible object store
// (AWS S3, MinIO, and friends). Chunks map to multipart-upload parts;
// ranged downloads map to ranged GETs.
type S3Backend struct {
	client *s3.Client
	bucket string
}

// NewS3Backend builds a backend from static credentials, using path-style
// addressing so self-hosted stores like MinIO work out of the box.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"", // session token not needed for static credentials
		)))
	if err != nil {
		return nil, fmt.Errorf("s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &S3Backend{client: client, bucket: cfg.Bucket}, nil
}

func (b *S3Backend) ChunkSizeBounds() (int64, int64) {
	return s3MinChunkSize, s3MaxChunkSize
}

func (b *S3Backend) Stat(ctx context.Context, path string) (*FileInfo, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, mapS3Error(err, path)
	}

	info := &FileInfo{Path: path}
	if out.ContentLength != nil {
		info.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		info.ModTime = *out.LastModified
	}
	info.ContentMD5 = out.Metadata["content-md5"]
	return info, nil
}

func (b *S3Backend) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	var files []FileInfo

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapS3Error(err, prefix)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasPrefix(key, casPrefix) {
				continue // content-addressed copies are not user files
			}
			info := FileInfo{Path: key}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			if obj.LastModified != nil {
				info.ModTime = *obj.LastModified
			}
			files = append(files, info)
		}
	}
	return files, nil
}

func (b *S3Backend) Delete(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}

	objects := make([]types.ObjectIdentifier, 0, len(paths))
	for _, p := range paths {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(p)})
	}

	_, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(b.bucket),
		Delete: &types.Delete{Objects: objects},
	})
	if err != nil {
		return mapS3Error(err, strings.Join(paths, ","))
	}
	return nil
}

func (b *S3Backend) ReadRange(ctx context.Context, path string, offset, length int64) (io.ReadCloser, error) {
	var rng string
	if length < 0 {
		rng = fmt.Sprintf("bytes=%d-", offset)
	} else {
		rng = fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	}

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
		Range:  aws.String(rng),
	})
	if err != nil {
		return nil, mapS3Error(err, path)
	}
	return out.Body, nil
}

func (b *S3Backend) CreateUpload(ctx context.Context, path string, size int64, fp *fingerprint.Fingerprint) (Upload, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	}
	if fp != nil {
		input.Metadata = map[string]string{
			"content-md5": fp.ContentMD5,
			"slice-md5":   fp.SliceMD5,
			"crc32":       strconv.FormatUint(uint64(fp.CRC32), 10),
		}
	}

	out, err := b.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return nil, mapS3Error(err, path)
	}

	return &s3Upload{backend: b, path: path, uploadID: aws.ToString(out.UploadId), fp: fp}, nil
}

func (b *S3Backend) ResumeUpload(ctx context.Context, path, id string) (Upload, error) {
	// The session is validated lazily: listing parts both checks that the
	// upload still exists and recovers what was already transferred.
	u := &s3Upload{backend: b, path: path, uploadID: id}
	if _, err := u.listParts(ctx); err != nil {
		return nil, err
	}
	return u, nil
}

func (b *S3Backend) Register(ctx context.Context, fp *fingerprint.Fingerprint, path string) error {
	casKey := casPrefix + fp.ContentMD5

	if _, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(casKey),
	}); err != nil {
		return mapS3Error(err, casKey)
	}

	// Server-side copy: no content bytes cross the wire.
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(path),
		CopySource: aws.String(url.PathEscape(b.bucket + "/" + casKey)),
	})
	if err != nil {
		return mapS3Error(err, path)
	}
	return nil
}

type s3Upload struct {
	backend  *S3Backend
	path     string
	uploadID string
	fp       *fingerprint.Fingerprint
}

func (u *s3Upload) ID() string { return u.uploadID }

func (u *s3Upload) UploadChunk(ctx context.Context, index int, offset int64, r io.Reader, size int64) error {
	_, err := u.backend.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(u.backend.bucket),
		Key:           aws.String(u.path),
		UploadId:      aws.String(u.uploadID),
		PartNumber:    aws.Int32(int32(index + 1)), // S3 parts are 1-based
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return mapS3Error(err, u.path)
	}
	return nil
}

func (u *s3Upload) listParts(ctx context.Context) ([]types.CompletedPart, error) {
	var parts []types.CompletedPart

	paginator := s3.NewListPartsPaginator(u.backend.client, &s3.ListPartsInput{
		Bucket:   aws.String(u.backend.bucket),
		Key:      aws.String(u.path),
		UploadId: aws.String(u.uploadID),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapS3Error(err, u.path)
		}
		for _, p := range page.Parts {
			parts = append(parts, types.CompletedPart{ETag: p.ETag, PartNumber: p.PartNumber})
		}
	}

	sort.Slice(parts, func(i, j int) bool {
		return aws.ToInt32(parts[i].PartNumber) < aws.ToInt32(parts[j].PartNumber)
	})
	return parts, nil
}

func (u *s3Upload) Complete(ctx context.Context) error {
	// Recover the part list from the server instead of tracking ETags
	// locally; this also covers sessions resumed after a restart.
	parts, err := u.listParts(ctx)
	if err != nil {
		return err
	}

	_, err = u.backend.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(u.backend.bucket),
		Key:             aws.String(u.path),
		UploadId:        aws.String(u.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return mapS3Error(err, u.path)
	}

	if u.fp != nil {
		// Index the content for instant registration by other uploads.
		_, err = u.backend.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(u.backend.bucket),
			Key:        aws.String(casPrefix + u.fp.ContentMD5),
			CopySource: aws.String(url.PathEscape(u.backend.bucket + "/" + u.path)),
		})
		if err != nil {
			return mapS3Error(err, u.path)
		}
	}
	return nil
}

func (u *s3Upload) Abort(ctx context.Context) error {
	_, err := u.backend.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.backend.bucket),
		Key:      aws.String(u.path),
		UploadId: aws.String(u.uploadID),
	})
	if err != nil {
		return mapS3Error(err, u.path)
	}
	return nil
}

// mapS3Error normalizes SDK errors onto the common sentinels so the
// scheduler can classify them without knowing about S3.
func mapS3Error(err error, path string) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", common.ErrNotFound, path)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchUpload":
			return fmt.Errorf("%w: %s", common.ErrNotFound, path)
		case "AccessDenied":
			return fmt.Errorf("%w: %s: %s", common.ErrPermissionDenied, path, apiErr.ErrorMessage())
		case "QuotaExceeded", "ServiceQuotaExceededException":
			return fmt.Errorf("%w: %s: %s", common.ErrQuotaExceeded, path, apiErr.ErrorMessage())
		}
	}
	return fmt.Errorf("s3 %s: %w", path, err)
}
