package datasets

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeCSV writes a CSV file with the given header and rows to path. An
// empty header writes no header line.
func writeCSV(t *testing.T, path, header string, rows []string) {
	t.Helper()
	var sb strings.Builder
	if header != "" {
		sb.WriteString(header + "\n")
	}
	for _, r := range rows {
		sb.WriteString(r + "\n")
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
}

// writePNG writes a w x h image filled with c.
func writePNG(t *testing.T, path string, w, h int, c color.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// writeStripePNG writes a w x h black image whose first stripe columns are
// filled with c.
func writeStripePNG(t *testing.T, path string, w, h, stripe int, c color.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < stripe {
				img.SetNRGBA(x, y, c)
			} else {
				img.SetNRGBA(x, y, color.NRGBA{A: 255})
			}
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

type testObject struct {
	name                   string
	xmin, ymin, xmax, ymax int
}

// writeVOC writes a PASCAL VOC style annotation.
func writeVOC(t *testing.T, path, filename string, w, h, depth int, objects ...testObject) {
	t.Helper()
	var sb strings.Builder
	fmt.Fprintf(&sb, "<annotation>\n  <filename>%s</filename>\n", filename)
	fmt.Fprintf(&sb, "  <size><width>%d</width><height>%d</height><depth>%d</depth></size>\n", w, h, depth)
	for _, o := range objects {
		fmt.Fprintf(&sb, "  <object>\n    <name>%s</name>\n    <difficult>0</difficult>\n", o.name)
		fmt.Fprintf(&sb, "    <bndbox><xmin>%d</xmin><ymin>%d</ymin><xmax>%d</xmax><ymax>%d</ymax></bndbox>\n",
			o.xmin, o.ymin, o.xmax, o.ymax)
		sb.WriteString("  </object>\n")
	}
	sb.WriteString("</annotation>\n")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
}

// tarGz builds a gzipped tarball holding files.
func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// newTestLoader returns a loader over a temporary data directory, after
// letting edit adjust the configuration.
func newTestLoader(t *testing.T, edit func(cfg *Config)) *Loader {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	if edit != nil {
		edit(&cfg)
	}
	l, err := NewLoader(cfg)
	require.NoError(t, err)
	return l
}
