// Package planner splits partitions into deterministic, bounded-size chunks.
//
// Chunk k of a partition covers items [k*size, min((k+1)*size, n)). Every chunk,
// including the only chunk of a partition smaller than the chunk size, is named
// <partition>_c<index>; outputs written under the older unsuffixed name are
// handled by a sole-chunk naming convention in the scanner, not here.
package planner

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"pubsweep/internal/manifest"
)

// ErrInvalidChunkSize is returned for non-positive chunk sizes.
var ErrInvalidChunkSize = errors.New("chunk size must be positive")

// Chunk is a contiguous, immutable sub-range of a partition.
type Chunk struct {
	Partition string
	Index     int
	Offset    int
	Length    int
	// Total is the number of chunks in the partition.
	Total int
}

// ID returns the stable chunk identity.
func (c Chunk) ID() string {
	return ChunkID(c.Partition, c.Index)
}

// End is the exclusive upper bound of the chunk's item range.
func (c Chunk) End() int { return c.Offset + c.Length }

// Expected is the number of items the chunk must produce.
func (c Chunk) Expected() int { return c.Length }

// Sole reports whether the chunk is the only chunk of its partition.
func (c Chunk) Sole() bool { return c.Total == 1 }

// Items returns the chunk's slice of the partition's ordered item list.
func (c Chunk) Items(p manifest.Partition) []string {
	if c.Offset >= len(p.Items) {
		return nil
	}
	end := c.End()
	if end > len(p.Items) {
		end = len(p.Items)
	}
	return p.Items[c.Offset:end]
}

// ChunkID formats the identity of chunk index within partition.
func ChunkID(partition string, index int) string {
	return fmt.Sprintf("%s_c%04d", partition, index)
}

// ParseChunkID splits a chunk identity back into partition and index.
func ParseChunkID(id string) (string, int, bool) {
	pos := strings.LastIndex(id, "_c")
	if pos <= 0 || pos+2 >= len(id) {
		return "", 0, false
	}
	index, err := strconv.Atoi(id[pos+2:])
	if err != nil || index < 0 {
		return "", 0, false
	}
	return id[:pos], index, true
}

// Count returns ceil(n / size).
func Count(n, size int) int {
	if n <= 0 || size <= 0 {
		return 0
	}
	return (n + size - 1) / size
}

// Plan splits a partition of n items into chunks of at most size items.
func Plan(partitionID string, n, size int) ([]Chunk, error) {
	if size <= 0 {
		return nil, ErrInvalidChunkSize
	}
	total := Count(n, size)
	chunks := make([]Chunk, 0, total)
	for k := 0; k < total; k++ {
		offset := k * size
		length := size
		if offset+length > n {
			length = n - offset
		}
		chunks = append(chunks, Chunk{
			Partition: partitionID,
			Index:     k,
			Offset:    offset,
			Length:    length,
			Total:     total,
		})
	}
	return chunks, nil
}

// PlanPartition plans a manifest that has already been read.
func PlanPartition(p manifest.Partition, size int) ([]Chunk, error) {
	return Plan(p.ID, p.Len(), size)
}

// Locate returns the chunk that contains the item at ordinal position.
func Locate(partitionID string, n, size, ordinal int) (Chunk, bool) {
	if size <= 0 || ordinal < 0 || ordinal >= n {
		return Chunk{}, false
	}
	index := ordinal / size
	offset := index * size
	length := size
	if offset+length > n {
		length = n - offset
	}
	return Chunk{Partition: partitionID, Index: index, Offset: offset, Length: length, Total: Count(n, size)}, true
}
