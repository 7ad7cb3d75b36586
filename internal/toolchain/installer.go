package toolchain

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// Installer places a compiler into a directory.
type Installer interface {
	Install(ctx context.Context, dir string) error
}

const maxArchiveSize = 64 << 20

var (
	ErrNoInstallURL       = errors.New("no install url configured")
	ErrUnsupportedArchive = errors.New("unsupported archive format")
)

// HTTPInstaller downloads a prebuilt distribution and unpacks it.
// Zip, tar.gz and tar.zst archives are understood.
type HTTPInstaller struct {
	URL    string
	Client *http.Client
	Logger *slog.Logger
}

// Install implements Installer.
func (i *HTTPInstaller) Install(ctx context.Context, dir string) error {
	if i.URL == "" {
		return ErrNoInstallURL
	}
	log := i.Logger
	if log == nil {
		log = slog.Default()
	}
	client := i.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	log.InfoContext(ctx, "toolchain.install.start", slog.String("url", i.URL), slog.String("dir", dir))

	data, err := i.download(ctx, client)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create install dir: %w", err)
	}
	if err := Extract(data, dir); err != nil {
		return err
	}
	if err := aliasPlainLuac(dir); err != nil {
		return err
	}

	log.InfoContext(ctx, "toolchain.install.ok", slog.String("dir", dir))
	return nil
}

func (i *HTTPInstaller) download(ctx context.Context, client *http.Client) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", i.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: unexpected status %s", i.URL, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArchiveSize+1))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", i.URL, err)
	}
	if len(data) > maxArchiveSize {
		return nil, fmt.Errorf("download %s: archive exceeds %d bytes", i.URL, maxArchiveSize)
	}
	return data, nil
}

// Extract unpacks an archive held in memory into dir. The format is
// detected from its magic bytes.
func Extract(data []byte, dir string) error {
	switch {
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return extractZip(data, dir)
	case bytes.HasPrefix(data, []byte{0x1f, 0x8b}):
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("open gzip: %w", err)
		}
		defer zr.Close()
		return extractTar(zr, dir)
	case bytes.HasPrefix(data, []byte{0x28, 0xb5, 0x2f, 0xfd}):
		zr, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("open zstd: %w", err)
		}
		defer zr.Close()
		return extractTar(zr, dir)
	default:
		return ErrUnsupportedArchive
	}
}

func extractZip(data []byte, dir string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", f.Name, err)
		}
		err = writeEntry(dir, f.Name, rc, f.Mode())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTar(r io.Reader, dir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := writeEntry(dir, hdr.Name, tr, hdr.FileInfo().Mode()); err != nil {
			return err
		}
	}
}

// writeEntry writes one archive member below dir, refusing names that would
// escape it.
func writeEntry(dir, name string, r io.Reader, mode os.FileMode) error {
	target := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("archive entry %q escapes install dir", name)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(target), err)
	}

	perm := mode.Perm()
	if isToolBinary(name) {
		perm |= 0o755
	}
	if perm == 0 {
		perm = 0o644
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(f, io.LimitReader(r, maxArchiveSize)); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return f.Close()
}

func isToolBinary(name string) bool {
	base := strings.ToLower(filepath.Base(name))
	if !strings.HasPrefix(base, "lua") {
		return false
	}
	// luac, luac.exe and luac5.4 but not lua54.dll.
	ext := filepath.Ext(base)
	return ext == ".exe" || strings.Trim(ext, ".0123456789") == ""
}

// aliasPlainLuac copies luac to luac54 when the archive only shipped the
// unversioned name.
func aliasPlainLuac(dir string) error {
	ext := ""
	if runtime.GOOS == "windows" {
		ext = ".exe"
	}
	plain := filepath.Join(dir, "luac"+ext)
	versioned := filepath.Join(dir, "luac54"+ext)

	if _, err := os.Stat(versioned); err == nil {
		return nil
	}
	src, err := os.Open(plain)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(versioned, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o755)
	if err != nil {
		return fmt.Errorf("alias %s: %w", versioned, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("alias %s: %w", versioned, err)
	}
	return dst.Close()
}
