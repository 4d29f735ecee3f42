// Package mock provides in-memory AWS clients for tests.
package mock

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	legoaws "github.com/gurre/lego/aws"
)

var _ legoaws.S3Client = (*S3Client)(nil)

// Object is a stored S3 object.
type Object struct {
	Body        []byte
	ContentType string
}

// S3Client is an in-memory implementation of aws.S3Client. Objects are keyed
// by "bucket/key". It also implements s3streamer.Streamer over the same data.
type S3Client struct {
	mu      sync.RWMutex
	objects map[string]Object
	fail    map[string]error

	// PageSize limits the keys returned per ListObjectsV2 call, zero means 1000.
	PageSize int

	copies  int
	deletes int
}

// NewS3Client creates an empty mock S3 client
func NewS3Client() *S3Client {
	return &S3Client{
		objects: make(map[string]Object),
		fail:    make(map[string]error),
	}
}

func bucketKey(bucket, key *string) string {
	return aws.ToString(bucket) + "/" + aws.ToString(key)
}

// AddObject stores content at bucket/key.
func (m *S3Client) AddObject(bucket, key string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = Object{Body: content}
}

// Object returns the object stored at bucket/key.
func (m *S3Client) Object(bucket, key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[bucket+"/"+key]
	return o, ok
}

// Keys returns every stored "bucket/key", sorted.
func (m *S3Client) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FailKey makes every operation on bucket/key return err.
func (m *S3Client) FailKey(bucket, key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[bucket+"/"+key] = err
}

// Copies returns the number of CopyObject calls that succeeded.
func (m *S3Client) Copies() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copies
}

// Deletes returns the number of DeleteObject calls that succeeded.
func (m *S3Client) Deletes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deletes
}

func (m *S3Client) lookup(bk string) (Object, error) {
	if err := m.fail[bk]; err != nil {
		return Object{}, err
	}
	o, ok := m.objects[bk]
	if !ok {
		return Object{}, &types.NoSuchKey{Message: aws.String("The specified key does not exist: " + bk)}
	}
	return o, nil
}

// GetObject implements the S3Client interface for reading objects
func (m *S3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, err := m.lookup(bucketKey(params.Bucket, params.Key))
	if err != nil {
		return nil, err
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(o.Body)),
		ContentLength: aws.Int64(int64(len(o.Body))),
		ContentType:   aws.String(o.ContentType),
	}, nil
}

// PutObject implements the S3Client interface for writing objects
func (m *S3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bk := bucketKey(params.Bucket, params.Key)
	if err := m.fail[bk]; err != nil {
		return nil, err
	}
	m.objects[bk] = Object{Body: data, ContentType: aws.ToString(params.ContentType)}
	return &s3.PutObjectOutput{ETag: aws.String(fmt.Sprintf("\"%x\"", len(data)))}, nil
}

// HeadObject implements the S3Client interface for retrieving object metadata
func (m *S3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bk := bucketKey(params.Bucket, params.Key)
	if err := m.fail[bk]; err != nil {
		return nil, err
	}
	o, ok := m.objects[bk]
	if !ok {
		return nil, &types.NotFound{Message: aws.String("Not Found")}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(o.Body))),
		ContentType:   aws.String(o.ContentType),
	}, nil
}

// CopyObject implements the S3Client interface. CopySource is the escaped
// "bucket/key" of the source.
func (m *S3Client) CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	src, err := url.PathUnescape(aws.ToString(params.CopySource))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.lookup(src)
	if err != nil {
		return nil, err
	}
	dest := bucketKey(params.Bucket, params.Key)
	if err := m.fail[dest]; err != nil {
		return nil, err
	}
	m.objects[dest] = o
	m.copies++
	return &s3.CopyObjectOutput{}, nil
}

// DeleteObject implements the S3Client interface. Deleting a missing key
// succeeds, as it does on S3.
func (m *S3Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bk := bucketKey(params.Bucket, params.Key)
	if err := m.fail[bk]; err != nil {
		return nil, err
	}
	delete(m.objects, bk)
	m.deletes++
	return &s3.DeleteObjectOutput{}, nil
}

// ListObjectsV2 implements the S3Client interface with Prefix, Delimiter and
// continuation tokens holding the index of the next key.
func (m *S3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bucket := aws.ToString(params.Bucket)
	prefix := aws.ToString(params.Prefix)
	delim := aws.ToString(params.Delimiter)

	var keys []string
	for bk := range m.objects {
		b, key, _ := strings.Cut(bk, "/")
		if b == bucket && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var contents []types.Object
	var prefixes []types.CommonPrefix
	seen := make(map[string]bool)
	for _, key := range keys {
		if delim != "" {
			if i := strings.Index(key[len(prefix):], delim); i >= 0 {
				cp := key[:len(prefix)+i+len(delim)]
				if !seen[cp] {
					seen[cp] = true
					prefixes = append(prefixes, types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		contents = append(contents, types.Object{
			Key:  aws.String(key),
			Size: aws.Int64(int64(len(m.objects[bucket+"/"+key].Body))),
		})
	}

	start := 0
	if params.ContinuationToken != nil {
		n, err := strconv.Atoi(*params.ContinuationToken)
		if err != nil {
			return nil, fmt.Errorf("invalid continuation token: %w", err)
		}
		start = n
	}
	size := m.PageSize
	if size <= 0 {
		size = 1000
	}
	if start > len(contents) {
		start = len(contents)
	}
	end := min(start+size, len(contents))

	out := &s3.ListObjectsV2Output{
		Contents:    contents[start:end],
		IsTruncated: aws.Bool(end < len(contents)),
		KeyCount:    aws.Int32(int32(end - start)),
	}
	if start == 0 {
		out.CommonPrefixes = prefixes
	}
	if end < len(contents) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

// Stream calls fn for every line of bucket/key starting at byte offset,
// passing the offset just past the line.
func (m *S3Client) Stream(ctx context.Context, bucket, key string, offset int64, fn func([]byte, int64) error) error {
	m.mu.RLock()
	o, err := m.lookup(bucket + "/" + key)
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	if offset > int64(len(o.Body)) {
		return nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(o.Body[offset:]))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	pos := offset
	for scanner.Scan() {
		line := scanner.Bytes()
		pos += int64(len(line)) + 1
		if pos > int64(len(o.Body)) {
			pos = int64(len(o.Body))
		}
		if err := fn(line, pos); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return scanner.Err()
}
