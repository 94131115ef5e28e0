// Package importer copies markdown files from configured folders into the
// namespace and keeps local folders in sync with watcher events.
package importer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/CageChen/markdok/internal/config"
	"github.com/CageChen/markdok/internal/docpath"
	"github.com/CageChen/markdok/internal/docs"
	mfs "github.com/CageChen/markdok/internal/fs"
	"github.com/CageChen/markdok/internal/logging"
	"github.com/CageChen/markdok/internal/metrics"
	"github.com/CageChen/markdok/internal/watcher"
)

// Namespace is the subset of docs.Service the importer drives.
type Namespace interface {
	CreateDirectory(ctx context.Context, path string) error
	CreateFile(ctx context.Context, path string) error
	Save(ctx context.Context, path, content string) error
	Delete(ctx context.Context, path string) error
}

// Stats summarizes one import run.
type Stats struct {
	Directories int
	Files       int
	Skipped     int
}

// Importer maps folders onto namespace directories named after their alias.
type Importer struct {
	cfg *config.Config
	ns  Namespace
	log *zap.Logger
}

// New creates an importer.
func New(cfg *config.Config, ns Namespace) *Importer {
	return &Importer{cfg: cfg, ns: ns, log: logging.Named("importer")}
}

// SourceFor returns the FileSystem backing a folder.
func SourceFor(folder config.Folder) mfs.FileSystem {
	if folder.GitRef != "" {
		return mfs.NewGitFS(folder.Path, folder.GitRef)
	}
	return mfs.NewLocalFS(folder.Path)
}

// MountPoint returns the namespace directory a folder is imported into.
func MountPoint(folder config.Folder) string {
	return docpath.Join(docpath.Root, folder.Alias)
}

// ImportAll imports every configured folder. A failing folder is logged and
// skipped.
func (im *Importer) ImportAll(ctx context.Context) {
	for _, folder := range im.cfg.Folders {
		stats, err := im.Import(ctx, folder, SourceFor(folder))
		if err != nil {
			im.log.Warn("import failed", zap.String("folder", folder.Path), zap.Error(err))
			continue
		}
		im.log.Info("imported folder",
			zap.String("folder", folder.Path),
			zap.String("mount", MountPoint(folder)),
			zap.Int("directories", stats.Directories),
			zap.Int("files", stats.Files),
			zap.Int("skipped", stats.Skipped))
	}
}

// Import walks src from folder.SubPath and creates every non-excluded
// directory and markdown file under the folder's mount point. Entries that
// already exist are left untouched.
func (im *Importer) Import(ctx context.Context, folder config.Folder, src mfs.FileSystem) (Stats, error) {
	var stats Stats
	mount := MountPoint(folder)

	if _, err := src.Stat(folder.SubPath); err != nil {
		return stats, fmt.Errorf("stat %s: %w", folder.SubPath, err)
	}
	if err := im.mkdir(ctx, mount, &stats); err != nil {
		return stats, err
	}

	err := mfs.Walk(src, folder.SubPath, func(rel string, e mfs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if im.skip(folder, rel, e.IsDir) {
			if e.IsDir {
				return mfs.SkipDir
			}
			return nil
		}

		target := im.target(folder, rel)
		if e.IsDir {
			return im.mkdir(ctx, target, &stats)
		}

		content, err := src.ReadFile(rel)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		return im.writeNew(ctx, target, string(content), &stats)
	})
	return stats, err
}

// Apply mirrors one watcher event from a local folder into the namespace.
// Events outside the folder's sub path are ignored.
func (im *Importer) Apply(ctx context.Context, ev watcher.Event) error {
	folder := ev.Folder
	src := mfs.NewLocalFS(folder.Path)

	rel, ok := src.Rel(ev.Path)
	if !ok || rel == "" {
		return nil
	}
	if !docpath.IsWithin(docpath.Normalize(rel), docpath.Normalize(folder.SubPath)) {
		return nil
	}
	target := im.target(folder, rel)
	if target == MountPoint(folder) {
		return nil
	}

	switch ev.Type {
	case watcher.EventRemove, watcher.EventRename:
		// the path is gone, so only exclusions apply, not the extension filter
		if im.excluded(folder, rel) {
			return nil
		}
		err := im.ns.Delete(ctx, target)
		if errors.Is(err, docs.ErrNotFound) {
			return nil
		}
		return err

	case watcher.EventCreate, watcher.EventWrite:
		if im.skip(folder, rel, ev.IsDir) {
			return nil
		}
		var stats Stats
		if err := im.mkdirParents(ctx, folder, target, &stats); err != nil {
			return err
		}
		if ev.IsDir {
			return im.mkdir(ctx, target, &stats)
		}
		content, err := src.ReadFile(rel)
		if err != nil {
			return fmt.Errorf("read %s: %w", ev.Path, err)
		}
		return im.upsert(ctx, target, string(content))
	}
	return nil
}

// skip applies the global and per-folder exclusion rules.
func (im *Importer) skip(folder config.Folder, rel string, isDir bool) bool {
	if im.excluded(folder, rel) {
		return true
	}
	return !isDir && !im.cfg.IsMarkdownFile(rel)
}

func (im *Importer) excluded(folder config.Folder, rel string) bool {
	return im.cfg.IsExcluded(rel) || im.cfg.IsFolderExcluded(filepath.FromSlash(rel), folder.Exclude)
}

// target maps a source-relative path onto the namespace.
func (im *Importer) target(folder config.Folder, rel string) string {
	return docpath.Normalize(MountPoint(folder) + "/" + trimSubPath(folder.SubPath, rel))
}

func (im *Importer) mkdir(ctx context.Context, path string, stats *Stats) error {
	err := im.ns.CreateDirectory(ctx, path)
	switch {
	case err == nil:
		stats.Directories++
		metrics.RecordImport(true)
		return nil
	case errors.Is(err, docs.ErrAlreadyExists):
		stats.Skipped++
		return nil
	default:
		return err
	}
}

// mkdirParents creates the directories between the mount point and path.
// fsnotify may report a file before the directory holding it.
func (im *Importer) mkdirParents(ctx context.Context, folder config.Folder, path string, stats *Stats) error {
	mount := MountPoint(folder)
	var missing []string
	for dir := docpath.Parent(path); dir != mount && docpath.IsWithin(dir, mount); dir = docpath.Parent(dir) {
		missing = append(missing, dir)
	}
	for i := len(missing) - 1; i >= 0; i-- {
		if err := im.mkdir(ctx, missing[i], stats); err != nil {
			return err
		}
	}
	return nil
}

func (im *Importer) writeNew(ctx context.Context, path, content string, stats *Stats) error {
	err := im.ns.CreateFile(ctx, path)
	if errors.Is(err, docs.ErrAlreadyExists) {
		stats.Skipped++
		return nil
	}
	if err != nil {
		return err
	}
	if err := im.ns.Save(ctx, path, content); err != nil {
		return err
	}
	stats.Files++
	metrics.RecordImport(false)
	return nil
}

// upsert creates path if needed and overwrites its content.
func (im *Importer) upsert(ctx context.Context, path, content string) error {
	err := im.ns.CreateFile(ctx, path)
	if err != nil && !errors.Is(err, docs.ErrAlreadyExists) {
		return err
	}
	if err == nil {
		metrics.RecordImport(false)
	}
	return im.ns.Save(ctx, path, content)
}

// trimSubPath strips the folder's sub path from a source-relative path.
func trimSubPath(subPath, rel string) string {
	sub := docpath.Normalize(subPath)
	full := docpath.Normalize(rel)
	if sub == docpath.Root || !docpath.IsWithin(full, sub) {
		return full
	}
	return full[len(sub):]
}
