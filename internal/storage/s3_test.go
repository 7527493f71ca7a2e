package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jittakal/lbuffer/internal/config/dto"
	lberrors "github.com/jittakal/lbuffer/internal/errors"
	"github.com/jittakal/lbuffer/pkg/stream"
)

// fakeS3 serves objects keyed by "bucket/key".
type fakeS3 struct {
	objects map[string]string
	headErr error
}

func (f *fakeS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)]; ok {
		return &s3.HeadObjectOutput{}, nil
	}
	return nil, &types.NotFound{}
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

// fakeUploader drains the body like the real uploader and records the result.
type fakeUploader struct {
	mu       sync.Mutex
	uploaded map[string]string
	inputs   []*s3.PutObjectInput
	err      error
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploaded == nil {
		f.uploaded = make(map[string]string)
	}
	key := aws.ToString(input.Bucket) + "/" + aws.ToString(input.Key)
	f.uploaded[key] = string(data)
	f.inputs = append(f.inputs, input)
	return &manager.UploadOutput{Location: "https://example.com/" + key}, nil
}

func (f *fakeUploader) get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.uploaded[key]
	return v, ok
}

func readAll(t *testing.T, r io.Reader) string {
	t.Helper()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return string(data)
}

func writeRecords(t *testing.T, sink stream.Sink, records ...string) {
	t.Helper()
	for _, r := range records {
		if _, err := sink.Write([]byte(r)); err != nil {
			t.Fatalf("Write(%q) error = %v", r, err)
		}
	}
}

func TestS3Backend_Open(t *testing.T) {
	metrics := &mockMetricsCollector{}
	backend := newS3Backend(&fakeS3{objects: map[string]string{"bucket/in.txt": "a\nb\n"}}, &fakeUploader{}, dto.S3Config{}, nil, metrics)

	src, err := backend.Open(context.Background(), Location{Scheme: SchemeS3, Bucket: "bucket", Key: "in.txt"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := readAll(t, src); got != "a\nb\n" {
		t.Errorf("read %q", got)
	}

	_, err = backend.Open(context.Background(), Location{Scheme: SchemeS3, Bucket: "bucket", Key: "missing"})
	var sourceErr *lberrors.SourceError
	if !errors.As(err, &sourceErr) {
		t.Fatalf("Open(missing) error = %v, want SourceError", err)
	}
	if metrics.lastErrorBackend != "s3" || metrics.lastErrorOperation != "get" {
		t.Errorf("metrics = %+v", metrics)
	}
}

func TestS3Backend_StreamingUpload(t *testing.T) {
	uploader := &fakeUploader{}
	backend := newS3Backend(&fakeS3{}, uploader, dto.S3Config{SSEEnabled: true, SSEKMSKeyID: "key-1"}, nil, nil)
	loc := Location{Scheme: SchemeS3, Bucket: "bucket", Key: "out.txt"}

	sink, err := backend.NewSink(context.Background(), loc, false)
	if err != nil {
		t.Fatalf("NewSink() error = %v", err)
	}
	writeRecords(t, sink, "abc\n", "def\n", "tail")
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got, ok := uploader.get("bucket/out.txt")
	if !ok {
		t.Fatal("object was not uploaded")
	}
	if got != "abc\ndef\ntail" {
		t.Errorf("uploaded %q", got)
	}
	if uploader.inputs[0].ServerSideEncryption != types.ServerSideEncryptionAwsKms {
		t.Errorf("ServerSideEncryption = %v, want aws:kms", uploader.inputs[0].ServerSideEncryption)
	}
	if aws.ToString(uploader.inputs[0].SSEKMSKeyId) != "key-1" {
		t.Errorf("SSEKMSKeyId = %v, want key-1", aws.ToString(uploader.inputs[0].SSEKMSKeyId))
	}
}

func TestS3Backend_ClobberCheck(t *testing.T) {
	client := &fakeS3{objects: map[string]string{"bucket/out.txt": "old"}}
	backend := newS3Backend(client, &fakeUploader{}, dto.S3Config{}, nil, nil)
	loc := Location{Scheme: SchemeS3, Bucket: "bucket", Key: "out.txt"}

	_, err := backend.NewSink(context.Background(), loc, false)
	if !errors.Is(err, lberrors.ErrDestinationExists) {
		t.Fatalf("NewSink() error = %v, want ErrDestinationExists", err)
	}

	sink, err := backend.NewSink(context.Background(), loc, true)
	if err != nil {
		t.Fatalf("NewSink(clobber) error = %v", err)
	}
	sink.Close()

	client.headErr = errors.New("access denied")
	if _, err := backend.NewSink(context.Background(), loc, false); err == nil {
		t.Error("expected HeadObject failure to be reported")
	}
}

func TestS3Backend_Abort(t *testing.T) {
	uploader := &fakeUploader{}
	backend := newS3Backend(&fakeS3{}, uploader, dto.S3Config{}, nil, nil)

	sink, err := backend.NewSink(context.Background(), Location{Scheme: SchemeS3, Bucket: "bucket", Key: "out.txt"}, false)
	if err != nil {
		t.Fatalf("NewSink() error = %v", err)
	}
	writeRecords(t, sink, "partial\n")

	cause := errors.New("reader failed")
	sink.(stream.Aborter).Abort(cause)

	if err := sink.Close(); !errors.Is(err, cause) {
		t.Errorf("Close() error = %v, want %v", err, cause)
	}
	if _, ok := uploader.get("bucket/out.txt"); ok {
		t.Error("aborted upload must not create the object")
	}
}

func TestS3Backend_UploadFailure(t *testing.T) {
	metrics := &mockMetricsCollector{}
	uploadErr := errors.New("bucket does not exist")
	backend := newS3Backend(&fakeS3{}, &fakeUploader{err: uploadErr}, dto.S3Config{}, nil, metrics)

	sink, err := backend.NewSink(context.Background(), Location{Scheme: SchemeS3, Bucket: "bucket", Key: "out.txt"}, true)
	if err != nil {
		t.Fatalf("NewSink() error = %v", err)
	}

	if _, err := sink.Write([]byte("record\n")); !errors.Is(err, uploadErr) {
		t.Errorf("Write() error = %v, want %v", err, uploadErr)
	}

	err = sink.Close()
	var writeErr *lberrors.WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("Close() error = %v, want WriteError", err)
	}
	if !errors.Is(err, uploadErr) {
		t.Errorf("Close() error = %v should wrap %v", err, uploadErr)
	}
	if metrics.lastErrorOperation != "upload" {
		t.Errorf("last error operation = %s, want upload", metrics.lastErrorOperation)
	}
}
