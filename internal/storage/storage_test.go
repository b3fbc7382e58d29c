package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sammcj/pdf-ocr-compare/internal/extract"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestNewUploadKey(t *testing.T) {
	key := NewUploadKey(`C:\Users\me\My Report (final).pdf`)
	assert.True(t, strings.HasPrefix(key, "uploads/"))
	assert.True(t, strings.HasSuffix(key, "-My_Report_final_.pdf"), key)
	assert.True(t, ValidKey(key))

	assert.NotEqual(t, NewUploadKey("a.pdf"), NewUploadKey("a.pdf"))
	assert.True(t, strings.HasSuffix(NewUploadKey("../.."), "-document"))
}

func TestValidKey(t *testing.T) {
	assert.True(t, ValidKey("uploads/abc.pdf"))
	assert.False(t, ValidKey(""))
	assert.False(t, ValidKey("/etc/passwd"))
	assert.False(t, ValidKey("uploads/../secrets"))
	assert.False(t, ValidKey("uploads//x"))
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	store, err := NewMemoryStore("http://localhost:8080/", time.Hour, time.Minute, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	data := []byte("%PDF-1.7")
	require.NoError(t, store.Put(ctx, "uploads/a.pdf", data, extract.MimeTypePDF))
	data[0] = 'X' // store must hold its own copy

	got, err := store.Get(ctx, "uploads/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(got))

	require.NoError(t, store.Delete(ctx, "uploads/a.pdf"))
	_, err = store.Get(ctx, "uploads/a.pdf")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, store.Delete(ctx, "never-existed"))
	assert.Equal(t, DocumentRef{Bucket: MemoryBucket, Key: "k"}, store.Locate("k"))
}

func TestMemoryStore_PresignAndVerify(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store, err := NewMemoryStore("http://localhost:8080", time.Hour, 10*time.Minute, testLogger())
	require.NoError(t, err)
	store.now = func() time.Time { return now }

	upload, err := store.PresignUpload(context.Background(), "uploads/x.pdf", extract.MimeTypePDF)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, upload.Method)
	assert.Equal(t, extract.MimeTypePDF, upload.Headers["Content-Type"])
	assert.Equal(t, now.Add(10*time.Minute).Unix(), upload.ExpiresAt.Unix())

	parsed, err := url.Parse(upload.URL)
	require.NoError(t, err)
	assert.Equal(t, "/api/upload/uploads/x.pdf", parsed.Path)

	token := parsed.Query().Get("token")
	assert.NoError(t, store.VerifyUpload("uploads/x.pdf", token))
	assert.ErrorIs(t, store.VerifyUpload("uploads/other.pdf", token), ErrUploadSignature)
	assert.ErrorIs(t, store.VerifyUpload("uploads/x.pdf", ""), ErrUploadSignature)
	assert.ErrorIs(t, store.VerifyUpload("uploads/x.pdf", "not-a-jwt"), ErrUploadSignature)
	assert.ErrorIs(t, store.VerifyUpload("uploads/x.pdf", tamper(token)), ErrUploadSignature)

	now = now.Add(11 * time.Minute)
	assert.ErrorIs(t, store.VerifyUpload("uploads/x.pdf", token), ErrUploadExpired)
}

// tamper changes one character in the middle of the signature segment
func tamper(token string) string {
	i := len(token) - 10
	c := byte('A')
	if token[i] == 'A' {
		c = 'B'
	}
	return token[:i] + string(c) + token[i+1:]
}

func TestMemoryStore_VerifyUploadRejectsForeignTokens(t *testing.T) {
	store, err := NewMemoryStore("http://localhost:8080", time.Hour, 10*time.Minute, testLogger())
	require.NoError(t, err)

	claims := jwt.RegisteredClaims{
		Subject:   "uploads/x.pdf",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}

	// signed with another secret
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("someone else's secret"))
	require.NoError(t, err)
	assert.ErrorIs(t, store.VerifyUpload("uploads/x.pdf", foreign), ErrUploadSignature)

	// unsigned
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	assert.ErrorIs(t, store.VerifyUpload("uploads/x.pdf", none), ErrUploadSignature)

	// no expiry
	forever, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "uploads/x.pdf"}).SignedString(store.secret)
	require.NoError(t, err)
	assert.ErrorIs(t, store.VerifyUpload("uploads/x.pdf", forever), ErrUploadSignature)
}

type fakeS3 struct {
	objects map[string][]byte
	getErr  error
	putErr  error
	deleted []string

	// body and contentLength replace the stored object when set
	body          io.Reader
	contentLength *int64
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, _ := io.ReadAll(in.Body)
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.body != nil {
		return &s3.GetObjectOutput{Body: io.NopCloser(f.body), ContentLength: f.contentLength}, nil
	}
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(data)))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, *in.Key)
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

type fakePresigner struct{}

func (fakePresigner) PresignPutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{
		URL:    "https://bucket.s3.amazonaws.com/" + *in.Key + "?X-Amz-Signature=abc",
		Method: http.MethodPut,
		SignedHeader: http.Header{
			"Host":         []string{"bucket.s3.amazonaws.com"},
			"Content-Type": []string{*in.ContentType},
		},
	}, nil
}

func newFakeS3Store(client *fakeS3) *S3Store {
	return &S3Store{
		client:   client,
		presign:  fakePresigner{},
		bucket:   "docs",
		expiry:   5 * time.Minute,
		maxBytes: DefaultMaxObjectBytes,
		now:      time.Now,
		logger:   testLogger(),
	}
}

// endlessReader yields zero bytes forever and counts how many were read
type endlessReader struct {
	read int64
}

func (r *endlessReader) Read(p []byte) (int, error) {
	clear(p)
	r.read += int64(len(p))
	return len(p), nil
}

func TestS3Store(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{}}
	store := newFakeS3Store(client)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "uploads/a.pdf", []byte("pdf"), extract.MimeTypePDF))
	got, err := store.Get(ctx, "uploads/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf"), got)

	_, err = store.Get(ctx, "missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)

	client.getErr = errors.New("access denied")
	_, err = store.Get(ctx, "uploads/a.pdf")
	assert.ErrorContains(t, err, "access denied")
	assert.NotErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, "uploads/a.pdf"))
	assert.Equal(t, []string{"uploads/a.pdf"}, client.deleted)
	assert.Equal(t, DocumentRef{Bucket: "docs", Key: "k"}, store.Locate("k"))
}

func TestS3Store_GetRefusesOversizedObjects(t *testing.T) {
	ctx := context.Background()

	body := &endlessReader{}
	client := &fakeS3{objects: map[string][]byte{}, body: body}
	store := newFakeS3Store(client)
	store.maxBytes = 1024

	_, err := store.Get(ctx, "uploads/huge.pdf")
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.LessOrEqual(t, body.read, int64(64*1024), "read stops shortly after the limit")

	// a declared length over the limit is refused before reading
	body = &endlessReader{}
	client.body = body
	client.contentLength = aws.Int64(10 << 30)
	_, err = store.Get(ctx, "uploads/huge.pdf")
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Zero(t, body.read)

	client.body = strings.NewReader(strings.Repeat("x", 1024))
	client.contentLength = aws.Int64(1024)
	got, err := store.Get(ctx, "uploads/exact.pdf")
	require.NoError(t, err)
	assert.Len(t, got, 1024)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store, err := NewMemoryStore("http://localhost", time.Hour, time.Minute, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "uploads/a.pdf", []byte("%PDF-1.7"), extract.MimeTypePDF))
	got, err := store.Get(ctx, "uploads/a.pdf")
	require.NoError(t, err)
	got[0] = 'X'

	again, err := store.Get(ctx, "uploads/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(again))
}

func TestS3Store_PresignUpload(t *testing.T) {
	store := newFakeS3Store(&fakeS3{objects: map[string][]byte{}})

	upload, err := store.PresignUpload(context.Background(), "uploads/a.pdf", extract.MimeTypePDF)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, upload.Method)
	assert.Equal(t, "uploads/a.pdf", upload.Key)
	assert.Equal(t, map[string]string{"Content-Type": extract.MimeTypePDF}, upload.Headers)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), upload.ExpiresAt, time.Minute)
}

// countingStore records deletes and can be told to fail them
type countingStore struct {
	*MemoryStore
	mu        sync.Mutex
	deletes   int
	deleteErr error
	putErr    error
}

func (c *countingStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if c.putErr != nil {
		return c.putErr
	}
	return c.MemoryStore.Put(ctx, key, data, contentType)
}

func (c *countingStore) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	c.deletes++
	c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.deleteErr != nil {
		return c.deleteErr
	}
	return c.MemoryStore.Delete(ctx, key)
}

func newCountingStore(t *testing.T) *countingStore {
	t.Helper()
	mem, err := NewMemoryStore("http://localhost", time.Hour, time.Minute, testLogger())
	require.NoError(t, err)
	return &countingStore{MemoryStore: mem}
}

func TestStage_ReleaseDeletesOnce(t *testing.T) {
	store := newCountingStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	staged, err := Stage(ctx, store, "ocr", ".pdf", []byte("doc"), extract.MimeTypePDF, testLogger())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(staged.Key, "ocr/"))
	assert.True(t, strings.HasSuffix(staged.Key, ".pdf"))
	assert.Equal(t, MemoryBucket, staged.Ref.Bucket)

	// release must still work after the request context is gone
	cancel()
	staged.Release(ctx)
	staged.Release(ctx)

	assert.Equal(t, 1, store.deletes)
	_, err = store.Get(context.Background(), staged.Key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStage_ReleaseSwallowsErrors(t *testing.T) {
	store := newCountingStore(t)
	store.deleteErr = errors.New("throttled")

	staged, err := Stage(context.Background(), store, "", ".pdf", []byte("doc"), extract.MimeTypePDF, testLogger())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(staged.Key, DefaultStagingPrefix+"/"))

	assert.NotPanics(t, func() { staged.Release(context.Background()) })
	assert.Equal(t, 1, store.deletes)
}

func TestStage_PutFailure(t *testing.T) {
	store := newCountingStore(t)
	store.putErr = errors.New("bucket missing")

	_, err := Stage(context.Background(), store, "ocr", ".pdf", []byte("doc"), extract.MimeTypePDF, testLogger())

	var stagingErr *extract.StagingError
	require.ErrorAs(t, err, &stagingErr)
	assert.Equal(t, "put", stagingErr.Op)
	assert.Equal(t, 0, store.deletes)
}
