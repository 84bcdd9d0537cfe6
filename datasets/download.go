package datasets

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// ErrChecksum is returned when a file doesn't match its expected hash.
var ErrChecksum = errors.New("checksum mismatch")

// FileExists reports whether path exists.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "checking %q", path)
}

// FileHash returns the CRC32 (IEEE) of the file as lowercase hex.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "opening %q", path)
	}
	defer f.Close()
	h := crc32.NewIEEE()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "hashing %q", path)
	}
	return fmt.Sprintf("%x", h.Sum32()), nil
}

// ValidateChecksum compares the file's CRC32 with want. On mismatch the
// file is deleted, so a later call downloads it again.
func ValidateChecksum(path, want string) error {
	got, err := FileHash(path)
	if err != nil {
		return err
	}
	if normalizeHash(got) != normalizeHash(want) {
		if rmErr := os.Remove(path); rmErr != nil {
			klog.Warningf("failed to remove corrupted file %q: %v", path, rmErr)
		}
		return errors.Wrapf(ErrChecksum, "%q has crc32 %s, want %s (file removed)", path, got, want)
	}
	return nil
}

// normalizeHash makes "0a1b" and "A1B" compare equal.
func normalizeHash(h string) string {
	return strings.TrimLeft(strings.ToLower(strings.TrimSpace(h)), "0")
}

// Downloader fetches dataset files over HTTP.
type Downloader struct {
	Client       *http.Client
	ShowProgress bool
}

// Download saves url to path, creating the directory if needed. The body
// is written to a temporary file next to path and renamed once complete.
func (d *Downloader) Download(ctx context.Context, url, path string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, errors.Wrapf(err, "creating directory for %q", path)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "building request for %q", url)
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "downloading %q", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("downloading %q: %s", url, resp.Status)
	}

	partial := fmt.Sprintf("%s.%s.partial", path, uuid.NewString())
	f, err := os.Create(partial)
	if err != nil {
		return 0, errors.Wrapf(err, "creating %q", partial)
	}
	var w io.Writer = f
	if d.ShowProgress {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(path))
		w = io.MultiWriter(f, bar)
		defer bar.Close()
	}
	n, err := io.Copy(w, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(partial)
		return 0, errors.Wrapf(err, "downloading %q to %q", url, path)
	}
	if err := os.Rename(partial, path); err != nil {
		_ = os.Remove(partial)
		return 0, errors.Wrapf(err, "moving download into %q", path)
	}
	klog.Infof("downloaded %s (%s)", url, humanize.Bytes(uint64(n)))
	return n, nil
}

// DownloadIfMissing downloads url into path unless path already exists, then
// checks the hash when one is given.
func (d *Downloader) DownloadIfMissing(ctx context.Context, url, path, hash string) error {
	exists, err := FileExists(path)
	if err != nil {
		return err
	}
	if !exists {
		klog.Infof("downloading %s ...", url)
		if _, err := d.Download(ctx, url, path); err != nil {
			return err
		}
	}
	if hash == "" {
		return nil
	}
	return ValidateChecksum(path, hash)
}

// ExtractTarGz unpacks a gzipped tarball into dir. Entries that would land
// outside dir are rejected.
func ExtractTarGz(archive, dir string) error {
	f, err := os.Open(archive)
	if err != nil {
		return errors.Wrapf(err, "opening %q", archive)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "reading gzip stream of %q", archive)
	}
	defer gz.Close()

	root, err := filepath.Abs(dir)
	if err != nil {
		return errors.Wrapf(err, "resolving %q", dir)
	}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "reading %q", archive)
		}
		target := filepath.Join(root, filepath.Clean(hdr.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return errors.Errorf("%q: entry %q escapes %q", archive, hdr.Name, dir)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errors.Wrapf(err, "creating %q", target)
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		default:
			klog.V(1).Infof("%s: skipping %q of type %c", archive, hdr.Name, hdr.Typeflag)
		}
	}
}

func writeEntry(r io.Reader, path string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating directory for %q", path)
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o600)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return errors.Wrapf(err, "extracting %q", path)
	}
	return errors.Wrapf(out.Close(), "closing %q", path)
}
