package index

import (
	"fmt"
	"strconv"

	"github.com/codetheweb/kf8/internal/mobi"
)

// Skeleton/chunk tag ids.
const (
	tagChunkCount     = 1
	tagCNCXOffset     = 2
	tagFileNumber     = 3
	tagSequenceNumber = 4
	tagGeometry       = 6
)

// SkeletonRow is one entry of the skeleton index: an XHTML shell
// located within flow 0.
type SkeletonRow struct {
	Name        string
	ChunkCount  uint32
	StartOffset uint32
	Length      uint32
}

// SkeletonName formats the canonical key of skeleton i.
func SkeletonName(i int) string {
	return fmt.Sprintf("SKEL%010d", i)
}

// Entry converts the row to its tag-map form.
func (r SkeletonRow) Entry() TagMapEntry {
	return TagMapEntry{
		Text: r.Name,
		Values: map[uint8][]uint32{
			tagChunkCount: {r.ChunkCount},
			tagGeometry:   {r.StartOffset, r.Length},
		},
	}
}

// SkeletonRowFromEntry projects a tag-map entry onto the skeleton
// schema. A skeleton without chunks is rejected.
func SkeletonRowFromEntry(e TagMapEntry) (SkeletonRow, error) {
	counts := e.Values[tagChunkCount]
	if len(counts) != 1 {
		return SkeletonRow{}, fmt.Errorf("skeleton %q has %d chunk count values: %w", e.Text, len(counts), mobi.ErrInvariant)
	}
	geometry := e.Values[tagGeometry]
	if len(geometry) != 2 {
		return SkeletonRow{}, fmt.Errorf("skeleton %q has %d geometry values: %w", e.Text, len(geometry), mobi.ErrInvariant)
	}
	if counts[0] == 0 {
		return SkeletonRow{}, fmt.Errorf("skeleton %q has no chunks: %w", e.Text, mobi.ErrInvariant)
	}
	return SkeletonRow{
		Name:        e.Text,
		ChunkCount:  counts[0],
		StartOffset: geometry[0],
		Length:      geometry[1],
	}, nil
}

// ChunkRow is one entry of the chunk index: a fragment insert within a
// skeleton.
type ChunkRow struct {
	// InsertPosition is the flow-0 offset the fragment is inserted at,
	// carried as the entry's 10-digit key.
	InsertPosition uint32
	CNCXOffset     uint32
	FileNumber     uint32
	SequenceNumber uint32
	StartOffset    uint32
	Length         uint32
}

// Entry converts the row to its tag-map form. The key is the insert
// position, zero-padded to 10 digits so byte order equals numeric
// order.
func (r ChunkRow) Entry() TagMapEntry {
	return TagMapEntry{
		Text: fmt.Sprintf("%010d", r.InsertPosition),
		Values: map[uint8][]uint32{
			tagCNCXOffset:     {r.CNCXOffset},
			tagFileNumber:     {r.FileNumber},
			tagSequenceNumber: {r.SequenceNumber},
			tagGeometry:       {r.StartOffset, r.Length},
		},
	}
}

// ChunkRowFromEntry projects a tag-map entry onto the chunk schema.
func ChunkRowFromEntry(e TagMapEntry) (ChunkRow, error) {
	if len(e.Text) != 10 {
		return ChunkRow{}, fmt.Errorf("chunk key %q is not a 10-digit position: %w", e.Text, mobi.ErrInvariant)
	}
	insert, err := strconv.ParseUint(e.Text, 10, 32)
	if err != nil {
		return ChunkRow{}, fmt.Errorf("chunk key %q: %w", e.Text, mobi.ErrInvariant)
	}

	single := func(tag uint8, name string) (uint32, error) {
		vs := e.Values[tag]
		if len(vs) != 1 {
			return 0, fmt.Errorf("chunk %q has %d %s values: %w", e.Text, len(vs), name, mobi.ErrInvariant)
		}
		return vs[0], nil
	}

	cncxOffset, err := single(tagCNCXOffset, "cncx offset")
	if err != nil {
		return ChunkRow{}, err
	}
	fileNumber, err := single(tagFileNumber, "file number")
	if err != nil {
		return ChunkRow{}, err
	}
	sequence, err := single(tagSequenceNumber, "sequence number")
	if err != nil {
		return ChunkRow{}, err
	}
	geometry := e.Values[tagGeometry]
	if len(geometry) != 2 {
		return ChunkRow{}, fmt.Errorf("chunk %q has %d geometry values: %w", e.Text, len(geometry), mobi.ErrInvariant)
	}

	return ChunkRow{
		InsertPosition: uint32(insert),
		CNCXOffset:     cncxOffset,
		FileNumber:     fileNumber,
		SequenceNumber: sequence,
		StartOffset:    geometry[0],
		Length:         geometry[1],
	}, nil
}
