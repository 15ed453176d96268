package main

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// archiveSource zstd-compresses path in place (path -> path+".zst") and
// removes the uncompressed original, giving operators an audit trail
// instead of an unconditional delete when build --archive-source is set.
func archiveSource(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	dstPath := path + ".zst"
	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer dst.Close()

	zw, err := zstd.NewWriter(dst)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}

	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		return fmt.Errorf("failed to compress source file: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize zstd archive: %w", err)
	}

	return os.Remove(path)
}
