package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gurre/lego/files"
	"github.com/gurre/lego/metrics"
	"github.com/gurre/lego/pool"
)

// Default worker counts for bulk operations.
const (
	DefaultCopyWorkers     = 150
	DefaultTransferWorkers = 100
)

// progressInterval controls how often bulk operations log their counters.
const progressInterval = 5 * time.Second

// BulkOptions controls bulk copies, downloads and uploads.
type BulkOptions struct {
	Suffix  string // Only objects or files ending with Suffix
	Delete  bool   // Delete each source once it has been transferred
	Archive bool   // Archive each S3 source once it has been transferred
	Workers int    // Zero uses the operation's default, 1 runs serially
	Limit   int    // Stop after this many objects, zero for no limit
}

func (o BulkOptions) validate() error {
	if o.Delete && o.Archive {
		return ErrDeleteAndArchive
	}
	return nil
}

func (o BulkOptions) workers(def int) int {
	if o.Workers == 0 {
		return def
	}
	return o.Workers
}

// run executes fn for every item on the pool while logging progress.
func run[T any](ctx context.Context, s *Store, m *metrics.Metrics, workers int, items []T, fn func(ctx context.Context, item T) (int64, error)) (metrics.Report, error) {
	progressCtx, stop := context.WithCancel(ctx)
	go m.LogProgress(progressCtx, progressInterval, s.log)

	err := pool.Run(ctx, workers, items, func(ctx context.Context, item T) error {
		n, err := fn(ctx, item)
		if err != nil {
			m.RecordError()
			s.log.WithError(err).Error("Transfer failed")
			return err
		}
		m.RecordItem(n)
		return nil
	})
	stop()
	return m.GenerateReport(), err
}

// CopyAll copies every object under from into to. to must equal from or be
// a folder.
func (s *Store) CopyAll(ctx context.Context, from, to URL, opts BulkOptions) (metrics.Report, error) {
	m := metrics.NewMetrics("copy")
	if err := opts.validate(); err != nil {
		return m.GenerateReport(), err
	}
	if from != to && !to.IsFolder() {
		return m.GenerateReport(), fmt.Errorf("%w: %s", ErrInvalidDestination, to)
	}

	s.log.Infof("Copying files from %s to %s", from, to)
	keys, err := s.list(ctx, from, ListOptions{Suffix: opts.Suffix}, opts.Limit)
	if err != nil {
		return m.GenerateReport(), err
	}

	copyOpts := CopyOptions{Delete: opts.Delete, Archive: opts.Archive}
	return run(ctx, s, m, opts.workers(DefaultCopyWorkers), keys, func(ctx context.Context, key string) (int64, error) {
		return 0, s.Copy(ctx, URL{Bucket: from.Bucket, Key: key}, to, copyOpts)
	})
}

// Download writes the object at u into the local directory dir and returns
// the local path and the number of bytes written.
func (s *Store) Download(ctx context.Context, u URL, dir string, opts CopyOptions) (string, int64, error) {
	if err := opts.validate(); err != nil {
		return "", 0, err
	}
	if !files.Exists(s.fs, dir, true) {
		return "", 0, fmt.Errorf("%w: %s", ErrLocalDirMissing, dir)
	}
	return s.download(ctx, u, dir, opts)
}

func (s *Store) download(ctx context.Context, u URL, dir string, opts CopyOptions) (string, int64, error) {
	s.log.Infof("Trying to download %s", u)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: awssdk.String(u.Bucket),
		Key:    awssdk.String(u.Key),
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to get %s: %w", u, err)
	}
	defer func() { _ = out.Body.Close() }()

	local := s.fs.Join(dir, path.Base(u.Key))
	f, err := s.fs.Create(local)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create %s: %w", local, err)
	}
	n, err := io.Copy(f, out.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(local)
		return "", 0, fmt.Errorf("failed to download %s to %s: %w", u, local, err)
	}
	s.log.Infof("%s downloaded successfully", u)

	if err := s.finishSource(ctx, u, opts.Delete, opts.Archive); err != nil {
		return local, n, err
	}
	return local, n, nil
}

// DownloadAll downloads every object under u into dir without recursing into
// sub-folders.
func (s *Store) DownloadAll(ctx context.Context, u URL, dir string, opts BulkOptions) (metrics.Report, error) {
	m := metrics.NewMetrics("download")
	if err := opts.validate(); err != nil {
		return m.GenerateReport(), err
	}
	if !files.Exists(s.fs, dir, true) {
		return m.GenerateReport(), fmt.Errorf("%w: %s", ErrLocalDirMissing, dir)
	}

	s.log.Infof("Downloading files from %s to %s", u, dir)
	keys, err := s.list(ctx, u, ListOptions{Suffix: opts.Suffix}, opts.Limit)
	if err != nil {
		return m.GenerateReport(), err
	}

	copyOpts := CopyOptions{Delete: opts.Delete, Archive: opts.Archive}
	report, err := run(ctx, s, m, opts.workers(DefaultTransferWorkers), keys, func(ctx context.Context, key string) (int64, error) {
		_, n, err := s.download(ctx, URL{Bucket: u.Bucket, Key: key}, dir, copyOpts)
		return n, err
	})
	if report.Items > 0 {
		s.log.Infof("Downloaded %d files from %s to %s", report.Items, u, dir)
	}
	return report, err
}

// Upload sends one local file to S3. When to is a folder the file keeps its
// name, otherwise to is the full destination key. With del the local file is
// removed after a successful upload.
func (s *Store) Upload(ctx context.Context, local string, to URL, del bool) (int64, error) {
	f, err := s.fs.Open(local)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", local, err)
	}
	defer func() { _ = f.Close() }()

	info, err := s.fs.Stat(local)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", local, err)
	}
	if info.IsDir() {
		return 0, nil
	}

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectReader(f); err == nil {
		contentType = mt.String()
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to rewind %s: %w", local, err)
	}

	dest := to
	if to.IsFolder() {
		dest = URL{Bucket: to.Bucket, Key: to.Key + path.Base(info.Name())}
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        awssdk.String(dest.Bucket),
		Key:           awssdk.String(dest.Key),
		Body:          f,
		ContentLength: awssdk.Int64(info.Size()),
		ContentType:   awssdk.String(contentType),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload %s to %s: %w", local, dest, err)
	}
	s.log.Infof("File %s uploaded successfully to %s", local, dest)

	if del {
		if err := s.fs.Remove(local); err != nil && !os.IsNotExist(err) {
			return info.Size(), fmt.Errorf("failed to delete %s: %w", local, err)
		}
		s.log.Infof("%s was deleted", local)
	}
	return info.Size(), nil
}

// UploadAll uploads a single file, every file in a directory, or every file
// matching a glob into the folder to.
func (s *Store) UploadAll(ctx context.Context, pattern string, to URL, opts BulkOptions) (metrics.Report, error) {
	m := metrics.NewMetrics("upload")
	if opts.Archive {
		return m.GenerateReport(), fmt.Errorf("archive is not supported for uploads")
	}
	if !to.IsFolder() {
		to = URL{Bucket: to.Bucket, Key: to.Key + "/"}
	}

	paths, err := files.List(s.fs, pattern)
	if err != nil {
		return m.GenerateReport(), err
	}
	var selected []string
	for _, p := range paths {
		if !strings.HasSuffix(p, opts.Suffix) {
			m.RecordSkipped()
			continue
		}
		selected = append(selected, p)
		if opts.Limit > 0 && len(selected) >= opts.Limit {
			break
		}
	}
	if len(selected) == 0 {
		s.log.Warnf("No files in %s to send to %s", pattern, to)
		return m.GenerateReport(), nil
	}

	s.log.Infof("Uploading files from %s to %s", pattern, to)
	return run(ctx, s, m, opts.workers(DefaultTransferWorkers), selected, func(ctx context.Context, p string) (int64, error) {
		return s.Upload(ctx, p, to, opts.Delete)
	})
}
