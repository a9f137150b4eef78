package cluster

import (
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
)

const (
	// PartitionCount is the fixed number of partitions per namespace.
	PartitionCount = 4096

	partitionBitmapSize = PartitionCount / 8
	maxNamespaceLength  = 31
)

// parseReplicasMaster decodes a `replicas-master` value of the form
// `ns:base64bitmap;ns:base64bitmap` into one ownership bitmap per namespace.
func parseReplicasMaster(value string) (map[string][]byte, error) {
	bitmaps := make(map[string][]byte)

	for _, entry := range strings.Split(value, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		ns, encoded, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, errors.Wrapf(ErrPartitionParse, "missing bitmap for entry %q", entry)
		}
		if ns == "" || len(ns) > maxNamespaceLength {
			return nil, errors.Wrapf(ErrPartitionParse, "invalid namespace %q", ns)
		}

		bitmap, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, errors.Wrapf(ErrPartitionParse, "invalid bitmap for namespace %s: %s", ns, err)
		}
		if len(bitmap) < partitionBitmapSize {
			return nil, errors.Wrapf(ErrPartitionParse,
				"bitmap for namespace %s is %d bytes, expected %d", ns, len(bitmap), partitionBitmapSize)
		}

		bitmaps[ns] = bitmap
	}

	return bitmaps, nil
}

func partitionOwned(bitmap []byte, partitionID int) bool {
	return bitmap[partitionID>>3]&(0x80>>(partitionID&7)) != 0
}

// encodePartitionBitmap is the inverse of the bitmap decoding above and is
// used by test servers.
func encodePartitionBitmap(partitionIDs []int) string {
	bitmap := make([]byte, partitionBitmapSize)
	for _, id := range partitionIDs {
		bitmap[id>>3] |= 0x80 >> (id & 7)
	}
	return base64.StdEncoding.EncodeToString(bitmap)
}
