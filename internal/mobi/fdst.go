package mobi

import "fmt"

// fdstEntryTableStart is the fixed byte offset where the entry table
// begins.
const fdstEntryTableStart = 12

// FDSTEntry is one flow boundary: a half-open byte range within the
// decompressed text.
type FDSTEntry struct {
	Start uint32
	End   uint32
}

// FDSTTable partitions the decompressed text into flows. Flow 0 is the
// primary HTML; flows 1..N are auxiliary resources.
type FDSTTable struct {
	Entries []FDSTEntry
}

// MarshalBinary serializes the table: "FDST", the entry table start
// position, the entry count, then the start/end pairs.
func (f *FDSTTable) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, fdstEntryTableStart+len(f.Entries)*8)
	out = append(out, "FDST"...)
	out = appendU32(out, fdstEntryTableStart)
	out = appendU32(out, uint32(len(f.Entries)))
	for _, e := range f.Entries {
		out = appendU32(out, e.Start)
		out = appendU32(out, e.End)
	}
	return out, nil
}

// ParseFDST decodes a flow boundary record and verifies the entries
// form a contiguous, increasing partition.
func ParseFDST(data []byte) (*FDSTTable, error) {
	c := NewCursor(data)
	if err := c.Magic("FDST"); err != nil {
		return nil, err
	}
	tableStart, err := c.U32()
	if err != nil {
		return nil, err
	}
	if tableStart != fdstEntryTableStart {
		return nil, fmt.Errorf("fdst entry table start %d, want %d: %w", tableStart, fdstEntryTableStart, ErrInvariant)
	}
	count, err := c.U32()
	if err != nil {
		return nil, err
	}

	entries := make([]FDSTEntry, count)
	for i := range entries {
		start, err := c.U32()
		if err != nil {
			return nil, fmt.Errorf("fdst entry %d: %w", i, err)
		}
		end, err := c.U32()
		if err != nil {
			return nil, fmt.Errorf("fdst entry %d: %w", i, err)
		}
		if end < start {
			return nil, fmt.Errorf("fdst entry %d range [%d, %d): %w", i, start, end, ErrInvariant)
		}
		if i > 0 && start != entries[i-1].End {
			return nil, fmt.Errorf("fdst entry %d start %d does not continue previous end %d: %w", i, start, entries[i-1].End, ErrInvariant)
		}
		entries[i] = FDSTEntry{Start: start, End: end}
	}

	return &FDSTTable{Entries: entries}, nil
}
