package kf8

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/codetheweb/kf8/internal/mobi"
	"github.com/codetheweb/kf8/internal/mobi/index"
)

// WriterOptions tunes serialization. The creation time is the only
// implicit input of the layout pass; inject a fixed value for
// byte-identical output.
type WriterOptions struct {
	CreationTime time.Time
}

// MarshalBinary serializes the book into a complete PalmDB byte
// stream.
func (b *Book) MarshalBinary() ([]byte, error) {
	return b.Marshal(WriterOptions{})
}

// WriteTo serializes the book and writes it to w. The output is fully
// buffered before the first byte is written.
func (b *Book) WriteTo(w io.Writer) (int64, error) {
	data, err := b.MarshalBinary()
	if err != nil {
		return 0, err
	}
	return io.Copy(w, bytes.NewReader(data))
}

// Marshal runs the layout pass: allocate record indices, serialize
// every record, then build record 0 with the chosen positions patched
// into its header.
func (b *Book) Marshal(opts WriterOptions) ([]byte, error) {
	if len(b.Parts) == 0 {
		return nil, fmt.Errorf("book has no parts: %w", ErrInvariant)
	}
	switch b.Compression {
	case 0, CompressionNone, CompressionPalmDoc:
	default:
		return nil, fmt.Errorf("compression type %#x not writable: %w", uint16(b.Compression), ErrUnknownEnum)
	}
	compression := b.Compression
	if compression == 0 {
		compression = CompressionNone
	}

	layout, err := b.layoutText()
	if err != nil {
		return nil, err
	}

	textRecords, err := mobi.SplitTextRecords(layout.raw, compression)
	if err != nil {
		return nil, err
	}
	if len(textRecords) > math.MaxUint16 {
		return nil, fmt.Errorf("%d text records: %w", len(textRecords), ErrOverflow)
	}

	pdb := mobi.NewPalmDB(b.Title, opts.CreationTime)
	pdb.AddRecord(nil) // record 0 placeholder

	textRegion := 0
	for _, rec := range textRecords {
		pdb.AddRecord(rec)
		textRegion += len(rec)
	}
	if pad := textRegion % 4; pad != 0 {
		pdb.AddRecord(make([]byte, 4-pad))
	}
	firstNonText := len(pdb.Records)

	chunkIndexRecord, err := appendIndex(pdb, index.ChunkTagTable, layout.chunkEntries, layout.chunkPool)
	if err != nil {
		return nil, fmt.Errorf("chunk index: %w", err)
	}
	skelIndexRecord, err := appendIndex(pdb, index.SkeletonTagTable, layout.skeletonEntries, nil)
	if err != nil {
		return nil, fmt.Errorf("skeleton index: %w", err)
	}

	firstResource, coverOffset, thumbOffset, err := appendResources(pdb, b.Resources)
	if err != nil {
		return nil, err
	}

	fdstData, err := layout.fdst.MarshalBinary()
	if err != nil {
		return nil, err
	}
	fdstRecord := pdb.AddRecord(fdstData)
	flisRecord := pdb.AddRecord(mobi.FLISRecord())
	fcisRecord := pdb.AddRecord(mobi.FCISRecord(uint32(len(layout.raw))))
	pdb.AddRecord(mobi.EOFRecord())

	header := mobi.NewHeader()
	header.Compression = compression
	header.TextLength = uint32(len(layout.raw))
	header.LastTextRecord = uint16(len(textRecords))
	header.Title = b.Title
	header.UniqueID = b.UID
	header.Language = b.Language
	header.FirstNonTextRecord = uint32(firstNonText)
	header.ExtraDataFlags = header.ExtraDataFlags.WithMultibyteOverlap(true)
	header.FDSTRecord = uint32(fdstRecord)
	header.FDSTCount = uint32(len(layout.fdst.Entries))
	header.FLISRecord = uint32(flisRecord)
	header.FCISRecord = uint32(fcisRecord)
	header.ChunkIndex = uint32(chunkIndexRecord)
	header.SkelIndex = uint32(skelIndexRecord)
	header.FirstResourceRecord = firstResource
	header.EXTH = b.writerMetadata(coverOffset, thumbOffset)
	header.ExthFlags = header.ExthFlags.WithEXTH(true)

	record0, err := header.MarshalRecord0(pdb.RecordOffset(0))
	if err != nil {
		return nil, err
	}
	pdb.Records[0] = record0

	return pdb.MarshalBinary()
}

// textLayout is the intermediate product of the text pass: the packed
// flows plus the index entries that describe them.
type textLayout struct {
	raw             []byte
	fdst            *mobi.FDSTTable
	skeletonEntries []index.TagMapEntry
	chunkEntries    []index.TagMapEntry
	chunkPool       *index.CNCXBuilder
}

// layoutText packs the parts into flow 0 — each skeleton contiguous,
// its fragments appended after it — and the stylesheets into the
// auxiliary flows, building the skeleton and chunk tables as it goes.
func (b *Book) layoutText() (*textLayout, error) {
	layout := &textLayout{chunkPool: &index.CNCXBuilder{}}

	var flow0 []byte
	chunkIndex := 0
	for i, part := range b.Parts {
		if len(part.Fragments) == 0 {
			return nil, fmt.Errorf("part %d has no fragments: %w", i, ErrInvariant)
		}

		start := len(flow0)
		insertPosition := start + len(part.SkeletonHead)
		skeletonLength := len(part.SkeletonHead) + len(part.SkeletonTail)

		flow0 = append(flow0, part.SkeletonHead...)
		flow0 = append(flow0, part.SkeletonTail...)

		for j, fragment := range part.Fragments {
			if len(fragment.Content) == 0 {
				return nil, fmt.Errorf("part %d fragment %d is empty: %w", i, j, ErrInvariant)
			}

			selector, err := layout.chunkPool.Add(fmt.Sprintf("P-//*[@aid='%d']", chunkIndex))
			if err != nil {
				return nil, err
			}
			row := index.ChunkRow{
				InsertPosition: uint32(insertPosition + j),
				CNCXOffset:     selector,
				FileNumber:     uint32(i),
				SequenceNumber: uint32(j),
				StartOffset:    uint32(len(flow0)),
				Length:         uint32(len(fragment.Content)),
			}
			layout.chunkEntries = append(layout.chunkEntries, row.Entry())
			flow0 = append(flow0, fragment.Content...)
			chunkIndex++
		}

		skel := index.SkeletonRow{
			Name:        index.SkeletonName(i),
			ChunkCount:  uint32(len(part.Fragments)),
			StartOffset: uint32(start),
			Length:      uint32(skeletonLength),
		}
		layout.skeletonEntries = append(layout.skeletonEntries, skel.Entry())
	}

	layout.fdst = &mobi.FDSTTable{Entries: []mobi.FDSTEntry{{Start: 0, End: uint32(len(flow0))}}}
	layout.raw = flow0
	for _, css := range b.Stylesheets {
		start := uint32(len(layout.raw))
		layout.raw = append(layout.raw, css...)
		layout.fdst.Entries = append(layout.fdst.Entries, mobi.FDSTEntry{Start: start, End: uint32(len(layout.raw))})
	}

	if uint64(len(layout.raw)) > math.MaxUint32 {
		return nil, fmt.Errorf("text of %d bytes: %w", len(layout.raw), ErrOverflow)
	}
	return layout, nil
}

// appendIndex lays out one index: definition record, a single data
// record, then the string pool records. It returns the definition's
// record number.
func appendIndex(pdb *mobi.PalmDB, table index.TagTable, entries []index.TagMapEntry, pool *index.CNCXBuilder) (int, error) {
	var poolRecords [][]byte
	if pool != nil {
		poolRecords = pool.Records()
	}

	def := index.DefinitionRecord{
		Table:        table,
		RecordCount:  1,
		TotalEntries: uint32(len(entries)),
		CNCXCount:    uint32(len(poolRecords)),
	}
	defData, err := def.MarshalBinary()
	if err != nil {
		return 0, err
	}
	defRecord := pdb.AddRecord(defData)

	data := index.DataRecord{Entries: entries}
	dataBytes, err := data.MarshalBinary(table)
	if err != nil {
		return 0, err
	}
	pdb.AddRecord(dataBytes)

	for _, rec := range poolRecords {
		pdb.AddRecord(rec)
	}
	return defRecord, nil
}

// appendResources lays out the record-backed resources and returns the
// first resource record number plus the cover and thumbnail offsets
// relative to it (-1 when absent).
func appendResources(pdb *mobi.PalmDB, resources []Resource) (uint32, int, int, error) {
	if len(resources) == 0 {
		return mobi.NoRecord, -1, -1, nil
	}

	first := len(pdb.Records)
	coverOffset, thumbOffset := -1, -1
	for i, res := range resources {
		switch res.Kind {
		case ResourceCover:
			if coverOffset >= 0 {
				return 0, 0, 0, fmt.Errorf("multiple cover resources: %w", ErrInvariant)
			}
			coverOffset = i
			pdb.AddRecord(res.Data)
		case ResourceThumbnail:
			if thumbOffset >= 0 {
				return 0, 0, 0, fmt.Errorf("multiple thumbnail resources: %w", ErrInvariant)
			}
			thumbOffset = i
			pdb.AddRecord(res.Data)
		case ResourceImage:
			pdb.AddRecord(res.Data)
		case ResourceFont:
			pdb.AddRecord(marshalFontRecord(res.Data))
		default:
			return 0, 0, 0, fmt.Errorf("resource %d kind %s is not record-backed: %w", i, res.Kind, ErrInvariant)
		}
	}
	return uint32(first), coverOffset, thumbOffset, nil
}

// marshalFontRecord wraps a font payload in an uncompressed FONT
// record.
func marshalFontRecord(payload []byte) []byte {
	out := make([]byte, 0, 24+len(payload))
	out = append(out, "FONT"...)
	out = appendU32(out, uint32(len(payload)))
	out = appendU32(out, 0)  // flags: stored, not obfuscated
	out = appendU32(out, 24) // payload offset
	out = appendU32(out, 0)  // xor key length
	out = appendU32(out, 0)  // xor key offset
	out = append(out, payload...)
	return out
}

// writerMetadata prepares the EXTH block: the caller's metadata (or a
// fresh block), the updated title entry, and the cover and thumbnail
// offsets when those resources were laid out.
func (b *Book) writerMetadata(coverOffset, thumbOffset int) *mobi.EXTH {
	exth := mobi.NewEXTH()
	if b.Metadata != nil {
		exth = b.Metadata.Clone()
	}
	exth.SetString(mobi.MetaUpdatedTitle, b.Title)
	if coverOffset >= 0 {
		exth.SetValue(mobi.MetaCoverOffset, uint32(coverOffset))
	}
	if thumbOffset >= 0 {
		exth.SetValue(mobi.MetaThumbOffset, uint32(thumbOffset))
	}
	return exth
}

func appendU32(dst []byte, v uint32) []byte {
	return append(dst, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
