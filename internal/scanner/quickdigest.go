package scanner

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/your-org/photovault/internal/source"
)

// quickSampleSize is how many bytes of head and tail feed the quick
// digest. Matched against stored digests only, never used for
// deduplication.
const quickSampleSize = 64 * 1024

// QuickDigest hashes the first and last quickSampleSize bytes of the
// file plus its length. Cheap enough to run on signature mismatches,
// strong enough to catch timestamp-only churn.
func QuickDigest(ctx context.Context, src source.Source, path string, size int64) (string, error) {
	f, err := src.Open(ctx, path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()

	if _, err := io.CopyN(h, f, min64(size, quickSampleSize)); err != nil && err != io.EOF {
		return "", fmt.Errorf("read head: %w", err)
	}

	if size > quickSampleSize*2 {
		if _, err := f.Seek(-quickSampleSize, io.SeekEnd); err != nil {
			return "", fmt.Errorf("seek tail: %w", err)
		}
		if _, err := io.CopyN(h, f, quickSampleSize); err != nil && err != io.EOF {
			return "", fmt.Errorf("read tail: %w", err)
		}
	}

	h.Write([]byte(strconv.FormatInt(size, 10)))

	return hex.EncodeToString(h.Sum(nil)), nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
