// Package scanner discovers stable diffusion images on disk and extracts
// their metadata records across a bounded worker pool.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/djherbis/times"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sudosert/sdmeta/metadata"
	"github.com/sudosert/sdmeta/pnginfo"
)

var supportedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// Scanner walks directories for images and parses them in parallel. The
// zero value scans recursively with a default worker count.
type Scanner struct {
	// Config is handed to every metadata parse.
	Config metadata.Config

	// Workers bounds the parse pool. Values below 1 mean 4 workers.
	Workers int

	// Recursive includes subdirectories.
	Recursive bool

	// Progress, when set, is invoked after each parsed file. It may be
	// called from several worker goroutines at once.
	Progress func(done, total int)

	// Logger receives scan logs. Nil means slog.Default().
	Logger *slog.Logger
}

func New(cfg metadata.Config) *Scanner {
	return &Scanner{
		Config:    cfg,
		Workers:   4,
		Recursive: true,
	}
}

func (s *Scanner) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Scanner) workers() int {
	if s.Workers < 1 {
		return 4
	}
	return s.Workers
}

// Scan parses every supported image under dir and returns one record per
// file, in discovery order. A file that cannot be read still yields a
// defaults-only record with the error noted in its raw metadata; only a
// failure to walk the directory or a canceled context aborts the scan.
func (s *Scanner) Scan(ctx context.Context, dir string) ([]*metadata.Record, error) {
	files, err := s.collectFiles(dir)
	if err != nil {
		return nil, err
	}

	scanID := uuid.New().String()
	log := s.logger().With("scan_id", scanID, "dir", dir)
	log.Info("scan started", "files", len(files))

	if len(files) == 0 {
		return nil, nil
	}

	parser := metadata.NewParser(s.Config)
	records := make([]*metadata.Record, len(files))
	total := len(files)
	var done atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers())
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			records[i] = s.parseOne(parser, path)
			if s.Progress != nil {
				s.Progress(int(done.Add(1)), total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info("scan finished", "records", len(records))
	return records, nil
}

// ParseFile extracts the metadata record of a single image file.
func (s *Scanner) ParseFile(path string) *metadata.Record {
	return s.parseOne(metadata.NewParser(s.Config), path)
}

func (s *Scanner) parseOne(parser *metadata.Parser, path string) *metadata.Record {
	var rec *metadata.Record

	info, err := pnginfo.ExtractFile(path)
	if err != nil {
		rec = parser.Parse(nil, 0, 0)
		rec.RawMetadata = fmt.Sprintf("error reading image: %v", err)
		s.logger().Debug("unreadable image", "path", path, "error", err)
	} else {
		rec = parser.Parse(info.Chunks, info.Width, info.Height)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	rec.FilePath = abs
	rec.FileName = filepath.Base(path)

	if fi, err := os.Stat(path); err == nil {
		rec.FileSize = fi.Size()
	}
	if ts, err := times.Stat(path); err == nil {
		rec.ModifiedTime = ts.ModTime()
	}

	return rec
}

// collectFiles gathers the supported image files under dir, confirming the
// container type by content sniffing rather than trusting the extension
// alone.
func (s *Scanner) collectFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !s.Recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !supportedExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		mtype, err := mimetype.DetectFile(path)
		if err != nil {
			return nil
		}
		if mtype.Is("image/png") || mtype.Is("image/jpeg") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return files, nil
}
