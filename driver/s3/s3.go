// Package s3 provides an Amazon S3 driver. Objects are written through
// multipart uploads, so a failed or aborted write leaves no partial
// object visible; small writes fall back to a single PutObject.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	storage "github.com/zoctipus/StorageHandler"
)

// minPartSize is the smallest part S3 accepts for all but the final
// part of a multipart upload.
const minPartSize = 5 * 1024 * 1024

// deleteBatchSize is the DeleteObjects request cap.
const deleteBatchSize = 1000

// Driver is an S3 backend scoped to one bucket. Paths it receives are
// object keys without a leading slash.
type Driver struct {
	client *s3.Client
	bucket string
}

// New creates an S3 driver over an existing client.
func New(client *s3.Client, bucket string) *Driver {
	return &Driver{client: client, bucket: bucket}
}

// Scheme implements storage.Driver.
func (d *Driver) Scheme() string {
	return storage.SchemeS3
}

// OpenRead implements storage.Driver.
func (d *Driver) OpenRead(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapS3Error("read", key, err)
	}
	return resp.Body, nil
}

// OpenWrite implements storage.Driver. The returned handle buffers up to
// one part; anything larger goes through a multipart upload that is
// completed on Close and aborted on failure.
func (d *Driver) OpenWrite(ctx context.Context, key string) (storage.WriteHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &writeHandle{
		ctx:    ctx,
		client: d.client,
		bucket: d.bucket,
		key:    key,
	}, nil
}

type writeHandle struct {
	ctx    context.Context
	client *s3.Client
	bucket string
	key    string

	buf      bytes.Buffer
	uploadID string
	parts    []types.CompletedPart
	done     bool
}

func (w *writeHandle) Write(b []byte) (int, error) {
	n, _ := w.buf.Write(b)
	if w.buf.Len() >= minPartSize {
		if err := w.flushPart(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// flushPart ships the buffered bytes as the next part, starting the
// multipart upload on the first call.
func (w *writeHandle) flushPart() error {
	if w.uploadID == "" {
		resp, err := w.client.CreateMultipartUpload(w.ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String(w.bucket),
			Key:         aws.String(w.key),
			ContentType: aws.String(contentTypeOf(w.key)),
		})
		if err != nil {
			return mapS3Error("write", w.key, err)
		}
		w.uploadID = aws.ToString(resp.UploadId)
	}

	partNum := int32(len(w.parts) + 1)
	resp, err := w.client.UploadPart(w.ctx, &s3.UploadPartInput{
		Bucket:     aws.String(w.bucket),
		Key:        aws.String(w.key),
		UploadId:   aws.String(w.uploadID),
		PartNumber: aws.Int32(partNum),
		Body:       bytes.NewReader(w.buf.Bytes()),
	})
	if err != nil {
		return mapS3Error("write", w.key, err)
	}
	w.parts = append(w.parts, types.CompletedPart{
		ETag:       resp.ETag,
		PartNumber: aws.Int32(partNum),
	})
	w.buf.Reset()
	return nil
}

func (w *writeHandle) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	// Small object, no multipart started: single put.
	if w.uploadID == "" {
		_, err := w.client.PutObject(w.ctx, &s3.PutObjectInput{
			Bucket:        aws.String(w.bucket),
			Key:           aws.String(w.key),
			Body:          bytes.NewReader(w.buf.Bytes()),
			ContentLength: aws.Int64(int64(w.buf.Len())),
			ContentType:   aws.String(contentTypeOf(w.key)),
		})
		if err != nil {
			return mapS3Error("write", w.key, err)
		}
		return nil
	}

	if w.buf.Len() > 0 {
		if err := w.flushPart(); err != nil {
			w.abort()
			return err
		}
	}
	_, err := w.client.CompleteMultipartUpload(w.ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(w.bucket),
		Key:             aws.String(w.key),
		UploadId:        aws.String(w.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: w.parts},
	})
	if err != nil {
		w.abort()
		return mapS3Error("write", w.key, err)
	}
	return nil
}

func (w *writeHandle) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.abort()
}

func (w *writeHandle) abort() error {
	if w.uploadID == "" {
		return nil
	}
	// Abort with a fresh context so cleanup survives caller cancellation.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := w.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
	})
	if err != nil {
		return mapS3Error("write", w.key, err)
	}
	return nil
}

// Stat implements storage.Driver. A key that exists is a file; a key
// that is a prefix of other keys is a synthesized directory.
func (d *Driver) Stat(ctx context.Context, key string) (*storage.FileInfo, error) {
	head, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return &storage.FileInfo{
			Name:        path.Base(key),
			Path:        key,
			Size:        aws.ToInt64(head.ContentLength),
			ModTime:     aws.ToTime(head.LastModified),
			ContentType: aws.ToString(head.ContentType),
			ETag:        aws.ToString(head.ETag),
			Metadata:    head.Metadata,
		}, nil
	}
	if !isNotFound(err) {
		return nil, mapS3Error("stat", key, err)
	}

	// Probe for a directory: any key under key/ means the prefix exists.
	probe := strings.TrimSuffix(key, "/") + "/"
	if key == "" {
		probe = ""
	}
	resp, lerr := d.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(d.bucket),
		Prefix:  aws.String(probe),
		MaxKeys: aws.Int32(1),
	})
	if lerr != nil {
		return nil, mapS3Error("stat", key, lerr)
	}
	if aws.ToInt32(resp.KeyCount) == 0 {
		return nil, nil
	}
	return &storage.FileInfo{
		Name:  path.Base(key),
		Path:  key,
		IsDir: true,
	}, nil
}

// List implements storage.Driver. Non-recursive listings synthesize
// directory entries from common prefixes.
func (d *Driver) List(ctx context.Context, prefix string, recursive bool) ([]storage.FileInfo, error) {
	listPrefix := strings.TrimSuffix(prefix, "/")
	if listPrefix != "" {
		listPrefix += "/"
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(listPrefix),
	}
	if !recursive {
		input.Delimiter = aws.String("/")
	}

	var out []storage.FileInfo
	paginator := s3.NewListObjectsV2Paginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapS3Error("list", prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			dir := strings.TrimSuffix(aws.ToString(cp.Prefix), "/")
			out = append(out, storage.FileInfo{
				Name:  path.Base(dir),
				Path:  dir,
				IsDir: true,
			})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == listPrefix {
				// Directory marker object for the prefix itself.
				continue
			}
			out = append(out, storage.FileInfo{
				Name:    path.Base(key),
				Path:    key,
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
				ETag:    aws.ToString(obj.ETag),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Delete implements storage.Driver. S3 deletes are idempotent.
func (d *Driver) Delete(ctx context.Context, key string) error {
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapS3Error("delete", key, err)
	}
	return nil
}

// Rename implements storage.Driver. S3 has no native rename; the
// handler falls back to copy-then-delete using Copy below.
func (d *Driver) Rename(ctx context.Context, src, dst string) error {
	return storage.NewPathError("rename", src, storage.ErrNotSupported)
}

// Mkdir implements storage.Driver. Directories are implicit in S3.
func (d *Driver) Mkdir(ctx context.Context, key string) error {
	return nil
}

// RemoveAll implements storage.Driver, deleting every key under the
// prefix in batches.
func (d *Driver) RemoveAll(ctx context.Context, prefix string) error {
	listPrefix := strings.TrimSuffix(prefix, "/")
	if listPrefix != "" {
		listPrefix += "/"
	}

	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(listPrefix),
	})

	var batch []types.ObjectIdentifier
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := d.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(d.bucket),
			Delete: &types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		batch = batch[:0]
		return err
	}

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return mapS3Error("remove_all", prefix, err)
		}
		for _, obj := range page.Contents {
			batch = append(batch, types.ObjectIdentifier{Key: obj.Key})
			if len(batch) == deleteBatchSize {
				if err := flush(); err != nil {
					return mapS3Error("remove_all", prefix, err)
				}
			}
		}
	}
	if err := flush(); err != nil {
		return mapS3Error("remove_all", prefix, err)
	}
	return nil
}

// Close implements storage.Driver. The S3 client holds no session state.
func (d *Driver) Close() error {
	return nil
}

// Copy implements storage.CanCopy with S3's server-side CopyObject.
func (d *Driver) Copy(ctx context.Context, src, dst string) error {
	_, err := d.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		CopySource: aws.String(fmt.Sprintf("%s/%s", d.bucket, src)),
		Key:        aws.String(dst),
	})
	if err != nil {
		return mapS3Error("copy", src, err)
	}
	return nil
}

// SignedURL implements storage.CanPresign for downloads.
func (d *Driver) SignedURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	presign := s3.NewPresignClient(d.client)
	req, err := presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignOptions) {
		o.Expires = expires
	})
	if err != nil {
		return "", mapS3Error("presign", key, err)
	}
	return req.URL, nil
}

// SignedUploadURL implements storage.CanPresign for uploads.
func (d *Driver) SignedUploadURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	presign := s3.NewPresignClient(d.client)
	req, err := presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignOptions) {
		o.Expires = expires
	})
	if err != nil {
		return "", mapS3Error("presign", key, err)
	}
	return req.URL, nil
}

// SetACL implements storage.CanSetACL with canned object ACLs.
func (d *Driver) SetACL(ctx context.Context, key, acl string) error {
	var canned types.ObjectCannedACL
	switch acl {
	case "private":
		canned = types.ObjectCannedACLPrivate
	case "public-read", "public":
		canned = types.ObjectCannedACLPublicRead
	case "public-read-write":
		canned = types.ObjectCannedACLPublicReadWrite
	case "authenticated-read":
		canned = types.ObjectCannedACLAuthenticatedRead
	default:
		return storage.NewPathError("set_acl", key, fmt.Errorf("unknown acl %q", acl))
	}

	_, err := d.client.PutObjectAcl(ctx, &s3.PutObjectAclInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
		ACL:    canned,
	})
	if err != nil {
		return mapS3Error("set_acl", key, err)
	}
	return nil
}

func contentTypeOf(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

// mapS3Error translates SDK failures into the shared error taxonomy.
func mapS3Error(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return storage.NewPathError(op, key, storage.ErrNotExist)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return storage.NewPathError(op, key, storage.ErrNotExist)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "TokenRefreshRequired":
			return storage.NewPathError(op, key, fmt.Errorf("%w: %v", storage.ErrAuth, err))
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return storage.NewPathError(op, key, fmt.Errorf("%w: %v", storage.ErrConnection, err))
		}
	}
	if storage.IsTransientNet(err) {
		return storage.NewPathError(op, key, fmt.Errorf("%w: %v", storage.ErrConnection, err))
	}
	return storage.NewPathError(op, key, err)
}
