package main

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/gurre/lego/metrics"
	"github.com/gurre/lego/storage"
	"github.com/integrii/flaggy"
)

// s3Flags are shared by the transfer subcommands.
type s3Flags struct {
	suffix    string
	recursive bool
	dirs      bool
	del       bool
	archive   bool
	rename    bool
	workers   int
	limit     int
	offset    int64
	asJSON    bool
}

func (f *s3Flags) bulk() storage.BulkOptions {
	return storage.BulkOptions{
		Suffix:  f.suffix,
		Delete:  f.del,
		Archive: f.archive,
		Workers: f.workers,
		Limit:   f.limit,
	}
}

func (f *s3Flags) addTransfer(sc *flaggy.Subcommand, archive bool) {
	sc.String(&f.suffix, "s", "suffix", "Only transfer keys or files ending with this suffix")
	sc.Bool(&f.del, "", "delete", "Delete each source after it is transferred")
	if archive {
		sc.Bool(&f.archive, "", "archive", "Move each S3 source into its folder's archive/ after it is transferred")
	}
	sc.Int(&f.workers, "w", "workers", "Number of concurrent transfers, 1 runs serially")
	sc.Int(&f.limit, "n", "limit", "Stop after this many objects")
	sc.Bool(&f.asJSON, "", "json", "Print the transfer report as JSON")
}

func s3Commands() (*flaggy.Subcommand, []command) {
	s3 := flaggy.NewSubcommand("s3")
	s3.Description = "List, copy, download, upload, print and delete S3 objects"

	var f s3Flags
	var src, dest string

	ls := flaggy.NewSubcommand("ls")
	ls.Description = "List objects under an s3:// URL"
	ls.AddPositionalValue(&src, "url", 1, true, "s3://bucket/prefix")
	ls.String(&f.suffix, "s", "suffix", "Only keys ending with this suffix")
	ls.Bool(&f.recursive, "r", "recursive", "Include keys below sub-folders")
	ls.Bool(&f.dirs, "", "dirs", "List sub-folders instead of objects")

	cp := flaggy.NewSubcommand("cp")
	cp.Description = "Copy one object, or every object under a folder"
	cp.AddPositionalValue(&src, "from", 1, true, "Source s3:// URL, a folder copies everything in it")
	cp.AddPositionalValue(&dest, "to", 2, true, "Destination s3:// URL")
	cp.Bool(&f.rename, "", "rename", "Use the destination as the full key of a single object")
	f.addTransfer(cp, true)

	get := flaggy.NewSubcommand("get")
	get.Description = "Download one object, or every object under a folder"
	get.AddPositionalValue(&src, "url", 1, true, "Source s3:// URL")
	get.AddPositionalValue(&dest, "dir", 2, true, "Existing local directory")
	f.addTransfer(get, true)

	put := flaggy.NewSubcommand("put")
	put.Description = "Upload a file, a directory's files or a glob"
	put.AddPositionalValue(&src, "path", 1, true, "Local file, directory or glob")
	put.AddPositionalValue(&dest, "url", 2, true, "Destination s3:// folder or key")
	f.addTransfer(put, false)

	cat := flaggy.NewSubcommand("cat")
	cat.Description = "Print an object line by line"
	cat.AddPositionalValue(&src, "url", 1, true, "s3://bucket/key")
	cat.Int64(&f.offset, "", "offset", "Start at this byte offset")

	rm := flaggy.NewSubcommand("rm")
	rm.Description = "Delete one object"
	rm.AddPositionalValue(&src, "url", 1, true, "s3://bucket/key")

	for _, sc := range []*flaggy.Subcommand{ls, cp, get, put, cat, rm} {
		s3.AttachSubcommand(sc, 1)
	}

	return s3, []command{
		{sc: ls, run: func(ctx context.Context, a *app) error {
			store, u, err := a.store(ctx, src)
			if err != nil {
				return err
			}
			var keys []string
			if f.dirs {
				keys, err = store.ListDirectories(ctx, u)
			} else {
				keys, err = store.List(ctx, u, storage.ListOptions{Suffix: f.suffix, Recursive: f.recursive})
			}
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(a.out, storage.URL{Bucket: u.Bucket, Key: k})
			}
			return nil
		}},
		{sc: cp, run: func(ctx context.Context, a *app) error {
			store, from, err := a.store(ctx, src)
			if err != nil {
				return err
			}
			to, err := storage.ParseURL(dest)
			if err != nil {
				return err
			}
			if !from.IsFolder() {
				return store.Copy(ctx, from, to, storage.CopyOptions{Delete: f.del, Archive: f.archive, Rename: f.rename})
			}
			report, err := store.CopyAll(ctx, from, to, f.bulk())
			return a.printReport(report, f.asJSON, err)
		}},
		{sc: get, run: func(ctx context.Context, a *app) error {
			store, u, err := a.store(ctx, src)
			if err != nil {
				return err
			}
			if !u.IsFolder() {
				local, _, err := store.Download(ctx, u, dest, storage.CopyOptions{Delete: f.del, Archive: f.archive})
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, local)
				return nil
			}
			report, err := store.DownloadAll(ctx, u, dest, f.bulk())
			return a.printReport(report, f.asJSON, err)
		}},
		{sc: put, run: func(ctx context.Context, a *app) error {
			store, to, err := a.store(ctx, dest)
			if err != nil {
				return err
			}
			report, err := store.UploadAll(ctx, src, to, f.bulk())
			return a.printReport(report, f.asJSON, err)
		}},
		{sc: cat, run: func(ctx context.Context, a *app) error {
			store, u, err := a.store(ctx, src)
			if err != nil {
				return err
			}
			return store.StreamLines(ctx, u, f.offset, func(line []byte, _ int64) error {
				_, err := fmt.Fprintf(a.out, "%s\n", line)
				return err
			})
		}},
		{sc: rm, run: func(ctx context.Context, a *app) error {
			store, u, err := a.store(ctx, src)
			if err != nil {
				return err
			}
			if u.IsFolder() {
				return fmt.Errorf("refusing to delete folder %s", u)
			}
			return store.Delete(ctx, u)
		}},
	}
}

// store parses raw as an s3:// URL and returns a Store for it.
func (a *app) store(ctx context.Context, raw string) (*storage.Store, storage.URL, error) {
	u, err := storage.ParseURL(raw)
	if err != nil {
		return nil, storage.URL{}, err
	}
	clients, err := a.aws(ctx)
	if err != nil {
		return nil, storage.URL{}, err
	}
	return storage.NewStore(clients.S3, storage.WithLogger(a.log)), u, nil
}

// printReport prints a bulk transfer report and passes err through.
func (a *app) printReport(report metrics.Report, asJSON bool, err error) error {
	if asJSON {
		data, jerr := json.MarshalIndent(report, "", "  ")
		if jerr != nil {
			return jerr
		}
		fmt.Fprintln(a.out, string(data))
	} else {
		fmt.Fprintln(a.out, report.String())
	}
	return err
}
