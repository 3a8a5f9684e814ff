package heap

import (
	"bufio"
	"fmt"
	"os"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/linkedin/goavro/v2"
)

// chunkRecordSchema describes one chunk in a checkpointed heap, used for
// postmortem debugging of the shared heap's allocation state. Grounded
// on internal/memorystore/avroCheckpoint.go's goavro.NewOCFWriter usage,
// simplified to a single fixed schema since a heap checkpoint has a
// stable shape (unlike the teacher's per-metric dynamic schema merging).
const chunkRecordSchema = `{
	"type": "record",
	"name": "HeapChunk",
	"fields": [
		{"name": "offset", "type": "long"},
		{"name": "length", "type": "long"},
		{"name": "inUse", "type": "boolean"}
	]
}`

// Checkpoint writes a snapshot of the heap's chunk table to path in Avro
// OCF format, one record per chunk, for offline inspection of a stuck or
// leaking core's shared-heap state.
func (h *Heap) Checkpoint(path string) error {
	codec, err := goavro.NewCodec(chunkRecordSchema)
	if err != nil {
		return fmt.Errorf("heap: compile checkpoint schema: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("heap: create checkpoint file: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	writer, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               bw,
		Codec:           codec,
		CompressionName: goavro.CompressionDeflateLabel,
	})
	if err != nil {
		return fmt.Errorf("heap: create OCF writer: %w", err)
	}

	h.mu.Lock()
	records := make([]map[string]any, 0, 64)
	off := 0
	for off+chunkHeaderSize <= len(h.region) {
		length, inUse := h.header(off)
		records = append(records, map[string]any{
			"offset": int64(off + chunkHeaderSize),
			"length": int64(length),
			"inUse":  inUse,
		})
		off += chunkHeaderSize + length
	}
	h.mu.Unlock()

	if err := writer.Append(records); err != nil {
		return fmt.Errorf("heap: append checkpoint records: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("heap: flush checkpoint file: %w", err)
	}

	cclog.Infof("[HEAP]> checkpointed %d chunks to %s", len(records), path)
	return nil
}
