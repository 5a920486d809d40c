package kf8

import (
	"fmt"
	"unicode/utf8"

	"github.com/codetheweb/kf8/internal/mobi"
	"github.com/codetheweb/kf8/internal/mobi/index"
)

// ParseBook lifts a raw .azw3 byte stream into a Book. Parsing fails
// fast on the first malformed structure; the only recoverable condition
// is a resource record no sniffer recognizes, which is skipped and
// reported through Book.SkippedResourceRecords.
func ParseBook(data []byte) (*Book, error) {
	pdb, err := mobi.ParsePalmDB(data)
	if err != nil {
		return nil, fmt.Errorf("palmdb container: %w", err)
	}

	header, err := mobi.ParseHeader(pdb.Records[0], pdb.RecordOffset(0))
	if err != nil {
		return nil, fmt.Errorf("mobi header: %w", err)
	}

	lastText := int(header.LastTextRecord)
	if lastText >= len(pdb.Records) {
		return nil, fmt.Errorf("last text record %d of %d records: %w", lastText, len(pdb.Records), ErrInvariant)
	}

	rawML, err := mobi.JoinTextRecords(pdb.Records[1:1+lastText], header.Compression, header.ExtraDataFlags, header.TextLength)
	if err != nil {
		return nil, fmt.Errorf("text records: %w", err)
	}

	flows, err := splitFlows(pdb, header, rawML)
	if err != nil {
		return nil, err
	}
	text := flows[0]

	skeletons, _, err := parseIndexRecords(pdb, header.SkelIndex, index.SkeletonTagTable)
	if err != nil {
		return nil, fmt.Errorf("skeleton index: %w", err)
	}
	chunks, chunkPool, err := parseIndexRecords(pdb, header.ChunkIndex, index.ChunkTagTable)
	if err != nil {
		return nil, fmt.Errorf("chunk index: %w", err)
	}

	parts, err := weaveParts(text, skeletons, chunks, chunkPool)
	if err != nil {
		return nil, err
	}

	stylesheets, err := flowStylesheets(flows, header.TextEncoding)
	if err != nil {
		return nil, err
	}

	book := &Book{
		Title:       header.Title,
		UID:         header.UniqueID,
		Language:    header.Language,
		Parts:       parts,
		Stylesheets: stylesheets,
		Compression: header.Compression,
		Metadata:    header.EXTH,
	}

	if err := readResources(book, pdb, header); err != nil {
		return nil, err
	}

	return book, nil
}

// splitFlows applies the FDST boundaries to the decompressed text.
func splitFlows(pdb *mobi.PalmDB, header *mobi.Header, rawML []byte) ([][]byte, error) {
	if header.FDSTRecord == mobi.NoRecord || int(header.FDSTRecord) >= len(pdb.Records) {
		return nil, fmt.Errorf("fdst record %d of %d records: %w", header.FDSTRecord, len(pdb.Records), ErrInvariant)
	}
	fdst, err := mobi.ParseFDST(pdb.Records[header.FDSTRecord])
	if err != nil {
		return nil, fmt.Errorf("fdst table: %w", err)
	}
	if len(fdst.Entries) == 0 {
		return nil, fmt.Errorf("fdst table has no flows: %w", ErrInvariant)
	}

	flows := make([][]byte, len(fdst.Entries))
	for i, e := range fdst.Entries {
		if int(e.End) > len(rawML) {
			return nil, fmt.Errorf("flow %d boundary %d outside text of %d bytes: %w", i, e.End, len(rawML), ErrInvariant)
		}
		flows[i] = rawML[e.Start:e.End]
	}
	return flows, nil
}

// flowStylesheets converts the auxiliary flows into stylesheet strings.
func flowStylesheets(flows [][]byte, encoding mobi.TextEncoding) ([]string, error) {
	var out []string
	for i, flow := range flows[1:] {
		if encoding == mobi.EncodingUTF8 && !utf8.Valid(flow) {
			return nil, fmt.Errorf("flow %d: %w", i+1, ErrUTF8)
		}
		out = append(out, string(flow))
	}
	return out, nil
}

// parseIndexRecords reads an index: the definition record at
// recordIndex, its data records, and its CNCX string pool.
func parseIndexRecords(pdb *mobi.PalmDB, recordIndex uint32, table index.TagTable) ([]index.TagMapEntry, *index.CNCXPool, error) {
	if recordIndex == mobi.NoRecord || int(recordIndex) >= len(pdb.Records) {
		return nil, nil, fmt.Errorf("index record %d of %d records: %w", recordIndex, len(pdb.Records), ErrInvariant)
	}

	def, err := index.ParseDefinitionRecord(pdb.Records[recordIndex])
	if err != nil {
		return nil, nil, err
	}
	if len(def.Table) != len(table) {
		return nil, nil, fmt.Errorf("index declares %d tags, want %d: %w", len(def.Table), len(table), ErrInvariant)
	}
	for i, d := range def.Table {
		if d != table[i] {
			return nil, nil, fmt.Errorf("index tag %d is %+v, want %+v: %w", i, d, table[i], ErrInvariant)
		}
	}

	dataEnd := int(recordIndex) + 1 + int(def.RecordCount)
	cncxEnd := dataEnd + int(def.CNCXCount)
	if cncxEnd > len(pdb.Records) {
		return nil, nil, fmt.Errorf("index spans records %d..%d of %d: %w", recordIndex, cncxEnd, len(pdb.Records), ErrInvariant)
	}

	var entries []index.TagMapEntry
	for i := int(recordIndex) + 1; i < dataEnd; i++ {
		rec, err := index.ParseDataRecord(pdb.Records[i], table)
		if err != nil {
			return nil, nil, fmt.Errorf("index data record %d: %w", i, err)
		}
		entries = append(entries, rec.Entries...)
	}
	if len(entries) != int(def.TotalEntries) {
		return nil, nil, fmt.Errorf("index holds %d entries, definition says %d: %w", len(entries), def.TotalEntries, ErrInvariant)
	}

	pool := index.NewCNCXPool(pdb.Records[dataEnd:cncxEnd])
	return entries, pool, nil
}

// weaveParts reconstructs the per-file XHTML parts from the skeleton
// and chunk tables over flow 0.
func weaveParts(text []byte, skeletonEntries, chunkEntries []index.TagMapEntry, pool *index.CNCXPool) ([]BookPart, error) {
	chunks := make([]index.ChunkRow, len(chunkEntries))
	for i, e := range chunkEntries {
		row, err := index.ChunkRowFromEntry(e)
		if err != nil {
			return nil, err
		}
		if _, err := pool.Get(row.CNCXOffset); err != nil {
			return nil, fmt.Errorf("chunk %d selector: %w", i, err)
		}
		chunks[i] = row
	}

	var parts []BookPart
	chunkIndex := 0
	for i, e := range skeletonEntries {
		skel, err := index.SkeletonRowFromEntry(e)
		if err != nil {
			return nil, err
		}

		start := int(skel.StartOffset)
		base := start + int(skel.Length)
		if base > len(text) {
			return nil, fmt.Errorf("skeleton %d spans [%d, %d) outside text of %d bytes: %w", i, start, base, len(text), ErrInvariant)
		}
		if chunkIndex >= len(chunks) {
			return nil, fmt.Errorf("skeleton %d wants chunks past the chunk table: %w", i, ErrInvariant)
		}

		first := chunks[chunkIndex]
		splitAt := int(first.InsertPosition)
		if splitAt < start || splitAt > base {
			return nil, fmt.Errorf("skeleton %d insert position %d outside [%d, %d): %w", i, splitAt, start, base, ErrInvariant)
		}

		var fragments []Fragment
		filename := ""
		for j := 0; j < int(skel.ChunkCount); j++ {
			if chunkIndex >= len(chunks) {
				return nil, fmt.Errorf("skeleton %d wants %d chunks, table exhausted at %d: %w", i, skel.ChunkCount, j, ErrInvariant)
			}
			chunk := chunks[chunkIndex]
			if j == 0 {
				filename = fmt.Sprintf("part%d.xhtml", chunk.FileNumber)
			}

			end := base + int(chunk.Length)
			if end > len(text) {
				return nil, fmt.Errorf("fragment %d spans [%d, %d) outside text of %d bytes: %w", chunkIndex, base, end, len(text), ErrInvariant)
			}
			fragments = append(fragments, Fragment{
				Index:   chunkIndex,
				Content: text[base:end],
			})
			base = end
			chunkIndex++
		}

		parts = append(parts, BookPart{
			Filename:     filename,
			SkeletonHead: text[start:splitAt],
			Fragments:    fragments,
			SkeletonTail: text[splitAt : start+int(skel.Length)],
			StartOffset:  start,
			EndOffset:    base,
		})
	}

	if chunkIndex != len(chunks) {
		return nil, fmt.Errorf("%d chunk entries unclaimed by skeletons: %w", len(chunks)-chunkIndex, ErrInvariant)
	}
	if len(parts) > 0 && parts[len(parts)-1].EndOffset != len(text) {
		return nil, fmt.Errorf("parts end at %d, flow 0 is %d bytes: %w", parts[len(parts)-1].EndOffset, len(text), ErrInvariant)
	}

	return parts, nil
}

// readResources classifies every record at or past the first resource
// record. The section addressed by the EXTH cover offset is the cover;
// the thumb offset addresses the thumbnail.
func readResources(book *Book, pdb *mobi.PalmDB, header *mobi.Header) error {
	if header.FirstResourceRecord == mobi.NoRecord {
		return nil
	}
	first := int(header.FirstResourceRecord)
	if first >= len(pdb.Records) {
		return fmt.Errorf("first resource record %d of %d records: %w", first, len(pdb.Records), ErrInvariant)
	}

	coverRecord, thumbRecord := -1, -1
	if header.EXTH != nil {
		if off, ok := header.EXTH.FirstValue(mobi.MetaCoverOffset); ok {
			coverRecord = first + int(off)
		}
		if off, ok := header.EXTH.FirstValue(mobi.MetaThumbOffset); ok {
			thumbRecord = first + int(off)
		}
	}

	for i := first; i < len(pdb.Records); i++ {
		kind := ResourceImage
		switch i {
		case coverRecord:
			kind = ResourceCover
		case thumbRecord:
			kind = ResourceThumbnail
		}

		res, err := classifyResource(pdb.Records[i], kind)
		if err != nil {
			return fmt.Errorf("resource record %d: %w", i, err)
		}
		if res == nil {
			if _, sentinel := resourceSentinels[magicOf(pdb.Records[i])]; !sentinel {
				book.SkippedResourceRecords = append(book.SkippedResourceRecords, i)
			}
			continue
		}
		book.Resources = append(book.Resources, *res)
	}

	return nil
}

func magicOf(record []byte) string {
	if len(record) < 4 {
		return ""
	}
	return string(record[:4])
}
