package archivestore

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"dbaccel/internal/config"
)

// Recompress wraps an .accel.dump tarball in an outer zstd or lz4
// envelope before upload, for bandwidth-constrained destinations. It
// returns the new path (path + ".zst" or ".lz4") and removes the plain
// tarball. RecompressNone returns path unchanged.
func Recompress(path string, kind config.RecompressKind) (string, error) {
	if kind == config.RecompressNone || kind == "" {
		return path, nil
	}

	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer in.Close()

	outPath := path + extensionFor(kind)
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", outPath, err)
	}

	var enc io.WriteCloser
	switch kind {
	case config.RecompressZstd:
		enc, err = zstd.NewWriter(out)
		if err != nil {
			out.Close()
			return "", fmt.Errorf("create zstd writer: %w", err)
		}
	case config.RecompressLZ4:
		enc = lz4.NewWriter(out)
	default:
		out.Close()
		return "", fmt.Errorf("unknown recompress kind %q", kind)
	}

	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		out.Close()
		return "", fmt.Errorf("recompress archive: %w", err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return "", fmt.Errorf("finalize %s envelope: %w", kind, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}

	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("remove plain tarball: %w", err)
	}
	return outPath, nil
}

// Decompress strips a zstd or lz4 envelope from an archive, returning
// the plain tarball path. Paths without a recognized envelope extension
// pass through unchanged, so restore can always hand the result to tar.
func Decompress(path string) (string, error) {
	kind := kindForPath(path)
	if kind == config.RecompressNone {
		return path, nil
	}

	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer in.Close()

	var dec io.Reader
	switch kind {
	case config.RecompressZstd:
		zr, err := zstd.NewReader(in)
		if err != nil {
			return "", fmt.Errorf("create zstd reader: %w", err)
		}
		defer zr.Close()
		dec = zr
	case config.RecompressLZ4:
		dec = lz4.NewReader(in)
	}

	outPath := strings.TrimSuffix(path, extensionFor(kind))
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", outPath, err)
	}

	if _, err := io.Copy(out, dec); err != nil {
		out.Close()
		return "", fmt.Errorf("decompress archive envelope: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return outPath, nil
}

func extensionFor(kind config.RecompressKind) string {
	switch kind {
	case config.RecompressZstd:
		return ".zst"
	case config.RecompressLZ4:
		return ".lz4"
	}
	return ""
}

func kindForPath(path string) config.RecompressKind {
	switch {
	case strings.HasSuffix(path, ".zst"):
		return config.RecompressZstd
	case strings.HasSuffix(path, ".lz4"):
		return config.RecompressLZ4
	}
	return config.RecompressNone
}
