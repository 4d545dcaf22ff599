package backup

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnsafePath is returned for archive entries or include paths that
// would escape the install directory.
var ErrUnsafePath = errors.New("path escapes the install directory")

// ArchiveInfo contains metadata about a created archive
type ArchiveInfo struct {
	Filename    string
	Path        string
	SizeBytes   int64
	CreatedAt   time.Time
	Include     []string
	FileCount   int
	Compression CompressionConfig
}

// ArchiveOptions selects what goes into an archive. Include and Exclude
// are slash-separated paths relative to the install; an empty Include
// archives everything.
type ArchiveOptions struct {
	Include     []string
	Exclude     []string
	Compression CompressionConfig
}

// CreateArchive writes a tar archive of the install at root to
// archivePath. A partial archive is removed on failure.
func CreateArchive(root, archivePath string, options ArchiveOptions) (info *ArchiveInfo, err error) {
	compression := normalizeCompression(options.Compression)

	targets, err := resolveTargets(root, options.Include)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	file, err := os.Create(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		if err != nil {
			file.Close()
			os.Remove(archivePath)
		}
	}()

	var out io.Writer = file
	var gz *gzip.Writer
	if compression.Type == CompressionGzip {
		gz, err = gzip.NewWriterLevel(file, compression.Level)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		out = gz
	}
	tw := tar.NewWriter(out)

	archiveAbs, _ := filepath.Abs(archivePath)
	count := 0
	for _, target := range targets {
		walkErr := filepath.WalkDir(filepath.Join(root, filepath.FromSlash(target)), func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			if rel == "." {
				return nil
			}
			rel = filepath.ToSlash(rel)

			if abs, _ := filepath.Abs(p); abs == archiveAbs || isExcluded(rel, options.Exclude) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			added, err := addEntry(tw, p, rel, d)
			if err != nil {
				return fmt.Errorf("%s: %w", rel, err)
			}
			if added {
				count++
			}
			return nil
		})
		if walkErr != nil {
			return nil, fmt.Errorf("failed to archive %s: %w", target, walkErr)
		}
	}

	if err = tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	if gz != nil {
		if err = gz.Close(); err != nil {
			return nil, fmt.Errorf("failed to finish compression: %w", err)
		}
	}
	if err = file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close archive: %w", err)
	}

	stat, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get archive size: %w", err)
	}

	info = &ArchiveInfo{
		Filename:    filepath.Base(archivePath),
		Path:        archivePath,
		SizeBytes:   stat.Size(),
		CreatedAt:   time.Now(),
		Include:     targets,
		FileCount:   count,
		Compression: compression,
	}

	log.Printf("[Archive] Archive created: %s (size: %d bytes, entries: %d)", info.Filename, info.SizeBytes, count)
	return info, nil
}

// resolveTargets cleans include paths and checks they exist under root.
func resolveTargets(root string, include []string) ([]string, error) {
	if len(include) == 0 {
		return []string{"."}, nil
	}

	var targets []string
	for _, entry := range include {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}
		clean, err := cleanRelative(trimmed)
		if err != nil {
			return nil, err
		}
		if _, err := os.Lstat(filepath.Join(root, filepath.FromSlash(clean))); err != nil {
			return nil, fmt.Errorf("directory or file does not exist: %s", trimmed)
		}
		targets = append(targets, clean)
	}
	if len(targets) == 0 {
		return []string{"."}, nil
	}
	return targets, nil
}

func cleanRelative(name string) (string, error) {
	clean := path.Clean(filepath.ToSlash(name))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%s: %w", name, ErrUnsafePath)
	}
	return clean, nil
}

// isExcluded matches rel against each pattern as a path prefix, a glob on
// the full relative path, or a glob on the base name.
func isExcluded(rel string, patterns []string) bool {
	base := path.Base(rel)
	for _, pattern := range patterns {
		p := strings.Trim(filepath.ToSlash(strings.TrimSpace(pattern)), "/")
		if p == "" {
			continue
		}
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
		if ok, _ := path.Match(p, rel); ok {
			return true
		}
		if ok, _ := path.Match(p, base); ok {
			return true
		}
	}
	return false
}

func addEntry(tw *tar.Writer, fullPath, rel string, d fs.DirEntry) (bool, error) {
	info, err := d.Info()
	if err != nil {
		return false, err
	}

	link := ""
	switch {
	case info.Mode().IsRegular(), info.IsDir():
	case info.Mode()&fs.ModeSymlink != 0:
		if link, err = os.Readlink(fullPath); err != nil {
			return false, err
		}
	default:
		return false, nil
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return false, err
	}
	header.Name = rel
	if info.IsDir() {
		header.Name += "/"
	}
	if err := tw.WriteHeader(header); err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() {
		return true, nil
	}

	f, err := os.Open(fullPath)
	if err != nil {
		return false, err
	}
	defer f.Close()

	if _, err := io.CopyN(tw, f, header.Size); err != nil {
		return false, fmt.Errorf("file changed while archiving: %w", err)
	}
	return true, nil
}

// ExtractArchive unpacks archivePath into destination, overwriting files
// that already exist. Entries may not leave destination, either by name or
// through a symlink already on disk or created earlier in the archive. It
// returns the number of entries written.
func ExtractArchive(archivePath, destination string) (int, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	tr, closeReader, err := openTarReader(file, archivePath)
	if err != nil {
		return 0, err
	}
	defer closeReader()

	if err := os.MkdirAll(destination, 0755); err != nil {
		return 0, fmt.Errorf("failed to create destination directory: %w", err)
	}
	x, err := newExtractor(destination)
	if err != nil {
		return 0, err
	}

	log.Printf("[Archive] Extracting archive %s to %s", archivePath, destination)

	count := 0
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to read archive: %w", err)
		}

		rel, err := cleanRelative(header.Name)
		if err != nil {
			return count, err
		}
		if rel == "." {
			continue
		}
		switch header.Typeflag {
		case tar.TypeDir, tar.TypeReg, tar.TypeSymlink:
		default:
			continue
		}
		if err := x.checkParent(rel); err != nil {
			return count, err
		}
		target := filepath.Join(x.root, filepath.FromSlash(rel))

		switch header.Typeflag {
		case tar.TypeDir:
			if err := x.replaceLink(target); err != nil {
				return count, fmt.Errorf("failed to create %s: %w", rel, err)
			}
			if err := os.MkdirAll(target, header.FileInfo().Mode().Perm()|0700); err != nil {
				return count, fmt.Errorf("failed to create %s: %w", rel, err)
			}
		case tar.TypeReg:
			if err := x.replaceLink(target); err != nil {
				return count, fmt.Errorf("failed to extract %s: %w", rel, err)
			}
			if err := writeFile(target, tr, header.FileInfo().Mode().Perm()); err != nil {
				return count, fmt.Errorf("failed to extract %s: %w", rel, err)
			}
		case tar.TypeSymlink:
			if err := x.writeSymlink(rel, target, header.Linkname); err != nil {
				return count, fmt.Errorf("failed to link %s: %w", rel, err)
			}
		}
		count++
	}

	log.Printf("[Archive] Extracted %d entries to %s", count, destination)
	return count, nil
}

// extractor tracks the links an archive has created so later entries
// cannot be written through them.
type extractor struct {
	root     string
	resolved string
	links    map[string]bool
}

func newExtractor(destination string) (*extractor, error) {
	root, err := filepath.Abs(destination)
	if err != nil {
		return nil, err
	}
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve destination: %w", err)
	}
	return &extractor{root: root, resolved: resolved, links: make(map[string]bool)}, nil
}

// checkParent rejects rel when one of its ancestors is a link from this
// archive, or when the deepest existing ancestor resolves outside the
// destination.
func (x *extractor) checkParent(rel string) error {
	for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
		if x.links[dir] {
			return fmt.Errorf("%s passes through link %s: %w", rel, dir, ErrUnsafePath)
		}
	}

	dir := filepath.Dir(filepath.Join(x.root, filepath.FromSlash(rel)))
	for dir != x.root {
		if _, err := os.Lstat(dir); err == nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", rel, err)
	}
	if !within(x.resolved, resolved) {
		return fmt.Errorf("%s resolves to %s: %w", rel, resolved, ErrUnsafePath)
	}
	return nil
}

// replaceLink removes a symlink sitting where a file or directory is about
// to be written, so the write does not follow it.
func (x *extractor) replaceLink(target string) error {
	info, err := os.Lstat(target)
	if err != nil || info.Mode()&fs.ModeSymlink == 0 {
		return nil
	}
	return os.Remove(target)
}

// writeSymlink refuses links that point outside the destination, by name
// or once resolved on disk.
func (x *extractor) writeSymlink(rel, target, linkname string) error {
	if filepath.IsAbs(linkname) {
		return fmt.Errorf("%s: %w", linkname, ErrUnsafePath)
	}
	if !within(x.root, filepath.Join(filepath.Dir(target), linkname)) {
		return fmt.Errorf("%s: %w", linkname, ErrUnsafePath)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if info, err := os.Lstat(target); err == nil && info.IsDir() {
		return fmt.Errorf("%s is a directory", rel)
	}
	os.Remove(target)
	if err := os.Symlink(linkname, target); err != nil {
		return err
	}
	if resolved, err := filepath.EvalSymlinks(target); err == nil && !within(x.resolved, resolved) {
		os.Remove(target)
		return fmt.Errorf("%s resolves to %s: %w", linkname, resolved, ErrUnsafePath)
	}
	x.links[rel] = true
	return nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ListArchiveContents lists the entry names of an archive
func ListArchiveContents(archivePath string) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	tr, closeReader, err := openTarReader(file, archivePath)
	if err != nil {
		return nil, err
	}
	defer closeReader()

	var names []string
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list archive contents: %w", err)
		}
		names = append(names, header.Name)
	}
}

func openTarReader(r io.Reader, name string) (*tar.Reader, func(), error) {
	if detectCompressionFromFilename(name).Type == CompressionNone {
		return tar.NewReader(r), func() {}, nil
	}
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	return tar.NewReader(gz), func() { gz.Close() }, nil
}

func writeFile(target string, r io.Reader, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
