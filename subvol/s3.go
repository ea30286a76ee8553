package subvol

import (
	"context"
	"bytes"
	goerrors "errors"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"

	"github.com/replifs/afr/fops"
)

// classifyErr distinguishes "object genuinely absent" (ENOENT, not worth
// retrying) from every other AWS API error (ENOTCONN-class, worth treating
// as a transient child-down signal per spec §7's taxonomy), by inspecting
// the smithy API error code rather than string-matching err.Error().
func classifyErr(err error) fops.XErrno {
	var apiErr smithy.APIError
	if goerrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return fops.XENOENT
		}
	}
	return fops.XENOTCONN
}

// S3 is a CSH backend storing each inode as one S3 object keyed by its
// GFID, and pending/changelog xattrs as object metadata headers (S3 has no
// real xattr concept, so metadata is the closest analog, matching how
// object-store-backed bricks in the wider ecosystem represent them).
type S3 struct {
	fops.NotImplementedDispatcher

	name   string
	bucket string
	client *s3.Client

	mu     sync.Mutex
	nextFD fops.FileHandle
	byFD   map[fops.FileHandle]fops.GFID
}

func NewS3(ctx context.Context, name, bucket string) (*S3, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return &S3{name: name, bucket: bucket, client: s3.NewFromConfig(cfg), byFD: make(map[fops.FileHandle]fops.GFID)}, nil
}

func (s *S3) Name() string { return s.name }

func (s *S3) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

func (s *S3) Close() error { return nil }

func (s *S3) key(gfid fops.GFID) string { return "objects/" + gfid.String() }

// Open has no real handle to take out against an object store; it merely
// remembers which GFID this FileHandle addresses so Readv/Writev/Release
// know which object to act on (mirrors LocalDisk's byFD table).
func (s *S3) Open(ctx context.Context, op *fops.OpenOp) error {
	s.mu.Lock()
	s.nextFD++
	fd := s.nextFD
	s.byFD[fd] = op.Loc.GFID
	s.mu.Unlock()
	op.FD = fd
	return nil
}

func (s *S3) Create(ctx context.Context, op *fops.CreateOp) error {
	s.mu.Lock()
	s.nextFD++
	fd := s.nextFD
	s.byFD[fd] = op.Loc.GFID
	s.mu.Unlock()
	op.FD = fd
	return nil
}

func (s *S3) Release(ctx context.Context, op *fops.ReleaseOp) error {
	s.mu.Lock()
	delete(s.byFD, op.FD)
	s.mu.Unlock()
	return nil
}

func (s *S3) gfidFor(fd fops.FileHandle) fops.GFID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byFD[fd]
}

func (s *S3) Stat(ctx context.Context, op *fops.StatOp) error {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(op.Loc.GFID)),
	})
	if err != nil {
		op.Reply.Errno = classifyErr(err)
		return nil
	}
	op.Reply.Stat = fops.Stat{GFID: op.Loc.GFID, Size: aws.ToInt64(out.ContentLength)}
	return nil
}

func (s *S3) Readv(ctx context.Context, op *fops.ReadvOp) error {
	rng := aws.String(rangeHeader(op.Offset, op.Size))
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(s.gfidFor(op.FD))),
		Range:  rng,
	})
	if err != nil {
		op.Reply.Errno = classifyErr(err)
		return nil
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	op.Data = data
	return nil
}

func (s *S3) Writev(ctx context.Context, op *fops.WritevOp) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(s.gfidFor(op.FD))),
		Body:        bytes.NewReader(op.Data),
		StorageClass: types.StorageClassStandard,
	})
	if err != nil {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	op.Written = len(op.Data)
	return nil
}

func (s *S3) Unlink(ctx context.Context, op *fops.UnlinkOp) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(op.Loc.GFID)),
	})
	if err != nil {
		op.Reply.Errno = fops.XEIO
	}
	return nil
}

func (s *S3) Getxattr(ctx context.Context, op *fops.GetxattrOp) error {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(op.Loc.GFID)),
	})
	if err != nil {
		op.Reply.Errno = classifyErr(err)
		return nil
	}
	if v, ok := out.Metadata[metadataKey(op.Name)]; ok {
		op.Value = []byte(v)
	}
	return nil
}

// Setxattr re-copies the object onto itself with an updated metadata map,
// the usual workaround for S3's lack of an in-place metadata update call.
func (s *S3) Setxattr(ctx context.Context, op *fops.SetxattrOp) error {
	key := s.key(op.Loc.GFID)
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		op.Reply.Errno = classifyErr(err)
		return nil
	}
	meta := head.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	meta[metadataKey(op.Name)] = string(op.Value)
	_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(s.bucket + "/" + key),
		Metadata:          meta,
		MetadataDirective: types.MetadataDirectiveReplace,
	})
	if err != nil {
		op.Reply.Errno = fops.XEIO
	}
	return nil
}

func rangeHeader(offset int64, size int) string {
	if size <= 0 {
		return ""
	}
	end := offset + int64(size) - 1
	return "bytes=" + itoa(offset) + "-" + itoa(end)
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func metadataKey(xattrName string) string {
	out := make([]byte, 0, len(xattrName))
	for _, r := range xattrName {
		if r == '.' {
			out = append(out, '-')
			continue
		}
		out = append(out, byte(r))
	}
	return string(out)
}
