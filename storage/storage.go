// Package storage moves objects between S3 locations and the local
// filesystem: listing, existence checks, reads and writes, copies, and bulk
// transfers run on a worker pool.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-billy/v5"
	"github.com/gurre/lego/aws"
	"github.com/gurre/lego/files"
	"github.com/gurre/lego/logging"
	"github.com/gurre/s3streamer"
	"github.com/sirupsen/logrus"
)

var (
	// ErrDeleteAndArchive is returned when an operation asks to both delete
	// and archive its source.
	ErrDeleteAndArchive = errors.New("cannot both delete and archive")

	// ErrInvalidDestination is returned when a bulk copy destination is
	// neither the source itself nor a folder.
	ErrInvalidDestination = errors.New("destination needs to match the source or represent a folder ending in '/'")

	// ErrRenameNeedsFilename is returned when a rename targets a folder.
	ErrRenameNeedsFilename = errors.New("cannot rename file, destination does not contain a filename")

	// ErrLocalDirMissing is returned when a download directory does not exist.
	ErrLocalDirMissing = errors.New("local directory does not exist")

	// ErrNoStreamer is returned by StreamLines when no streamer is configured.
	ErrNoStreamer = errors.New("no line streamer configured")
)

// ArchiveFolder is the subfolder sources are moved into when archived.
const ArchiveFolder = "archive/"

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Store) { s.log = logging.OrDiscard(log) }
}

// WithStreamer sets the line streamer used by StreamLines.
func WithStreamer(st s3streamer.Streamer) Option {
	return func(s *Store) { s.streamer = st }
}

// WithFilesystem sets the local filesystem used by uploads and downloads.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(s *Store) { s.fs = fs }
}

// Store runs S3 operations through an aws.S3Client.
type Store struct {
	client   aws.S3Client
	streamer s3streamer.Streamer
	fs       billy.Filesystem
	log      *logrus.Entry
}

// NewStore creates a Store. When client is an *s3.Client a line streamer is
// created from it.
func NewStore(client aws.S3Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		fs:     files.OS(),
		log:    logging.Discard(),
	}
	if c, ok := client.(*s3.Client); ok {
		s.streamer = s3streamer.NewS3Streamer(c)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListOptions filters List results.
type ListOptions struct {
	Suffix    string // Only keys ending with Suffix
	Recursive bool   // Include keys below sub-folders
}

// List returns the object keys under u, one level deep unless Recursive.
// Folder placeholder keys ending in "/" are skipped.
func (s *Store) List(ctx context.Context, u URL, opts ListOptions) ([]string, error) {
	return s.list(ctx, u, opts, 0)
}

func (s *Store) list(ctx context.Context, u URL, opts ListOptions, limit int) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: awssdk.String(u.Bucket),
		Prefix: awssdk.String(u.Key),
	}
	if !opts.Recursive {
		input.Delimiter = awssdk.String("/")
	}
	s.log.Debugf("Listing %s (suffix %q, recursive %v)", u, opts.Suffix, opts.Recursive)

	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", u, err)
		}
		for _, obj := range page.Contents {
			key := awssdk.ToString(obj.Key)
			if strings.HasSuffix(key, "/") || !strings.HasSuffix(key, opts.Suffix) {
				continue
			}
			keys = append(keys, key)
			if limit > 0 && len(keys) >= limit {
				return keys, nil
			}
		}
	}
	return keys, nil
}

// ListDirectories returns the sub-folder prefixes directly under u.
func (s *Store) ListDirectories(ctx context.Context, u URL) ([]string, error) {
	if u.Key == "" {
		s.log.Debug("Listing directories at the top of a bucket may take a long time")
	}

	var dirs []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    awssdk.String(u.Bucket),
		Prefix:    awssdk.String(u.Key),
		Delimiter: awssdk.String("/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list directories in %s: %w", u, err)
		}
		for _, cp := range page.CommonPrefixes {
			dirs = append(dirs, awssdk.ToString(cp.Prefix))
		}
	}
	if len(dirs) == 0 {
		s.log.Debug("List of directories returned 0 results")
	}
	return dirs, nil
}

// Exists reports whether the object at u exists. A not-found response is
// reported as false, any other failure as an error.
func (s *Store) Exists(ctx context.Context, u URL) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: awssdk.String(u.Bucket),
		Key:    awssdk.String(u.Key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check %s: %w", u, err)
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return false
}

// Read returns the contents of the object at u.
func (s *Store) Read(ctx context.Context, u URL) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: awssdk.String(u.Bucket),
		Key:    awssdk.String(u.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", u, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", u, err)
	}
	return data, nil
}

// Write stores data at u with a content type sniffed from the data.
func (s *Store) Write(ctx context.Context, u URL, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        awssdk.String(u.Bucket),
		Key:           awssdk.String(u.Key),
		Body:          bytes.NewReader(data),
		ContentLength: awssdk.Int64(int64(len(data))),
		ContentType:   awssdk.String(mimetype.Detect(data).String()),
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", u, err)
	}
	return nil
}

// WriteString stores content at u.
func (s *Store) WriteString(ctx context.Context, u URL, content string) error {
	return s.Write(ctx, u, []byte(content))
}

// Delete removes the object at u.
func (s *Store) Delete(ctx context.Context, u URL) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: awssdk.String(u.Bucket),
		Key:    awssdk.String(u.Key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", u, err)
	}
	return nil
}

// StreamLines calls fn for every line of the object at u starting at byte
// offset. fn receives the line and the offset following it.
func (s *Store) StreamLines(ctx context.Context, u URL, offset int64, fn func(line []byte, offset int64) error) error {
	if s.streamer == nil {
		return ErrNoStreamer
	}
	if err := s.streamer.Stream(ctx, u.Bucket, u.Key, offset, fn); err != nil {
		return fmt.Errorf("failed to stream %s: %w", u, err)
	}
	return nil
}

// CopyOptions controls what happens to the source of a copy.
type CopyOptions struct {
	Delete  bool // Delete the source after copying
	Archive bool // Move the source into its folder's archive/ after copying
	Rename  bool // Use to as the full destination key instead of a folder
}

func (o CopyOptions) validate() error {
	if o.Delete && o.Archive {
		return ErrDeleteAndArchive
	}
	return nil
}

// copyDestination returns where from lands when copied to to.
func copyDestination(from, to URL, rename bool) (URL, error) {
	if rename {
		if to.IsFolder() {
			return URL{}, ErrRenameNeedsFilename
		}
		return to, nil
	}
	return to.Join(from.Filename()), nil
}

// Copy copies one object. Without Rename the object keeps its filename and
// lands in to's folder.
func (s *Store) Copy(ctx context.Context, from, to URL, opts CopyOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	dest, err := copyDestination(from, to, opts.Rename)
	if err != nil {
		return err
	}

	// An object copied onto itself only needs its source handling.
	if dest != from {
		s.log.Debugf("Copying %s to %s", from, dest)
		if err := s.copyObject(ctx, from, dest); err != nil {
			return err
		}
	}
	if err := s.finishSource(ctx, from, opts.Delete, opts.Archive); err != nil {
		return err
	}
	s.log.Infof("Successfully copied %s to %s", from, dest)
	return nil
}

func (s *Store) copyObject(ctx context.Context, from, to URL) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     awssdk.String(to.Bucket),
		Key:        awssdk.String(to.Key),
		CopySource: awssdk.String(copySource(from)),
	})
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", from, to, err)
	}
	return nil
}

// copySource URL-encodes bucket/key for CopyObject, keeping the slashes.
func copySource(u URL) string {
	parts := strings.Split(u.Bucket+"/"+u.Key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// finishSource deletes or archives a source object once it has been moved.
func (s *Store) finishSource(ctx context.Context, u URL, del, archive bool) error {
	switch {
	case del:
		if err := s.Delete(ctx, u); err != nil {
			return err
		}
		s.log.Debugf("Deleted %s", u)
	case archive:
		dest := URL{Bucket: u.Bucket, Key: u.Folder() + ArchiveFolder + u.Filename()}
		if err := s.copyObject(ctx, u, dest); err != nil {
			return err
		}
		if err := s.Delete(ctx, u); err != nil {
			return err
		}
		s.log.Debugf("Archived %s to %s", u, dest)
	}
	return nil
}
