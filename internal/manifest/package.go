package manifest

import (
	"archive/zip"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Config file names, in lookup order.
var configNames = []string{"config.json", "config.yaml", "config.yml"}

// DataDir is the package-relative directory holding engine files.
const DataDir = "0/data"

// Package is an opened model package.
type Package struct {
	// Root is the directory holding the config, possibly a temporary extraction of a zip.
	Root string
	// Manifest is the parsed config.
	Manifest *Manifest

	source string
	tmpDir string
}

// Open opens the model package at path, which is either a directory or a zip archive.
// Zip archives are extracted to a temporary directory removed by Close.
// All failures are *LoadError values matching ErrLoad.
func Open(path string) (*Package, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, NewLoadError(path, err)
	}
	p := &Package{Root: path, source: path}
	if !info.IsDir() {
		if p.tmpDir, err = extractZip(path); err != nil {
			return nil, NewLoadError(path, err)
		}
		p.Root = findRoot(p.tmpDir)
	}
	if p.Manifest, err = readConfig(p.Root); err != nil {
		_ = p.Close()
		return nil, NewLoadError(path, err)
	}
	klog.V(2).InfoS("Opened model package", "path", path, "root", p.Root,
		"name", p.Manifest.Name, "platform", p.Manifest.Platform)
	return p, nil
}

// Source returns the path the package was opened from.
func (p *Package) Source() string { return p.source }

// DataPath returns the path of an engine file, relative to the package's data directory.
func (p *Package) DataPath(elem ...string) string {
	return filepath.Join(append([]string{p.Root, filepath.FromSlash(DataDir)}, elem...)...)
}

// ReadData reads a file from the package's data directory.
func (p *Package) ReadData(name string) ([]byte, error) {
	data, err := os.ReadFile(p.DataPath(name))
	if err != nil {
		return nil, NewLoadError(p.source, err)
	}
	return data, nil
}

// Size returns the total size in bytes of the files in the package.
func (p *Package) Size() (int64, error) {
	var total int64
	err := filepath.WalkDir(p.Root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, errors.Wrapf(err, "size of %s", p.source)
}

// Close removes the temporary extraction of a zip package. It is a no-op for
// directories and may be called more than once.
func (p *Package) Close() error {
	if p.tmpDir == "" {
		return nil
	}
	dir := p.tmpDir
	p.tmpDir = ""
	if err := os.RemoveAll(dir); err != nil {
		klog.Warningf("Failed to remove extracted package %s: %v", dir, err)
		return errors.Wrapf(err, "remove %s", dir)
	}
	return nil
}

func readConfig(root string) (*Manifest, error) {
	for _, name := range configNames {
		data, err := os.ReadFile(filepath.Join(root, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		m, err := Parse(data)
		if err != nil {
			return nil, errors.WithMessage(err, name)
		}
		return m, nil
	}
	return nil, errors.Errorf("no config file found in package (tried %s)", strings.Join(configNames, ", "))
}

// findRoot returns dir, or its only subdirectory if the archive was made by zipping
// the package directory itself.
func findRoot(dir string) string {
	for _, name := range configNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return dir
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 || !entries[0].IsDir() {
		return dir
	}
	return filepath.Join(dir, entries[0].Name())
}

func extractZip(archive string) (dir string, err error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		if r != nil {
			_ = r.Close()
		}
		return "", errors.Wrapf(err, "open package archive")
	}
	defer func() { _ = r.Close() }()

	dir, err = os.MkdirTemp("", "neuropod-*")
	if err != nil {
		return "", errors.Wrap(err, "create extraction directory")
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(dir)
		}
	}()

	for _, f := range r.File {
		clean := path.Clean(f.Name)
		if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
			return "", errors.Errorf("invalid path in package archive: %q", f.Name)
		}
		target := filepath.Join(dir, filepath.FromSlash(clean))
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", errors.WithStack(err)
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return "", err
		}
	}
	return dir, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.WithStack(err)
	}
	rc, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, "open %q within package archive", f.Name)
	}
	defer func() { _ = rc.Close() }()

	out, err := os.Create(target)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := io.Copy(out, rc); err != nil { //nolint:gosec // archive size is bounded by the package file
		_ = out.Close()
		return errors.Wrapf(err, "extract %q", f.Name)
	}
	return errors.WithStack(out.Close())
}
