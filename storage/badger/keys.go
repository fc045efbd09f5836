package badger

import (
	"encoding/binary"
)

// Key layout. Ids never contain ':', so every prefix below is unambiguous.
//
//	ds:<id>                      dataset record
//	dsi:<seq>                    dataset recency index -> id
//	ws:<id>                      workspace record
//	wsi:<datasetID>:<seq>        workspace index by dataset -> id
//	wsa:<seq>                    workspace recency index -> id
//	tm:<id>, tmi:..., tma:...    training metadata, same shape as workspaces
//	fb:<id>, fbi:..., fba:...    feedback, same shape as workspaces
//	fbp:<predictionID>           feedback uniqueness index -> id
//	bl:<id>                      blob metadata, written after all chunks
//	blp:<id>                     pending blob marker -> creation time
//	blc:<id>:<seq>               blob chunk, seq is a big-endian uint32
const (
	datasetPrefix        = "ds:"
	datasetIndexPrefix   = "dsi:"
	workspacePrefix      = "ws:"
	workspaceByDSPrefix  = "wsi:"
	workspaceIndexPrefix = "wsa:"
	trainingPrefix       = "tm:"
	trainingByDSPrefix   = "tmi:"
	trainingIndexPrefix  = "tma:"
	feedbackPrefix       = "fb:"
	feedbackByDSPrefix   = "fbi:"
	feedbackIndexPrefix  = "fba:"
	predictionPrefix     = "fbp:"
	blobPrefix           = "bl:"
	blobPendingPrefix    = "blp:"
	blobChunkPrefix      = "blc:"

	recordSeq = "seq:records"
)

func makeKey(prefix, id string) []byte {
	buf := make([]byte, 0, len(prefix)+len(id))
	buf = append(buf, prefix...)
	return append(buf, id...)
}

// makeIndexKey builds prefix[:owner]:<seq>. An empty owner omits the segment.
func makeIndexKey(prefix, owner string, seq uint64) []byte {
	buf := makeIndexPrefix(prefix, owner)
	// Big-endian so lexicographic order is creation order
	return binary.BigEndian.AppendUint64(buf, seq)
}

func makeIndexPrefix(prefix, owner string) []byte {
	buf := make([]byte, 0, len(prefix)+len(owner)+9)
	buf = append(buf, prefix...)
	if owner != "" {
		buf = append(buf, owner...)
		buf = append(buf, ':')
	}
	return buf
}

func makeChunkKey(blobID string, seq uint32) []byte {
	buf := makeChunkPrefix(blobID)
	return binary.BigEndian.AppendUint32(buf, seq)
}

func makeChunkPrefix(blobID string) []byte {
	buf := make([]byte, 0, len(blobChunkPrefix)+len(blobID)+5)
	buf = append(buf, blobChunkPrefix...)
	buf = append(buf, blobID...)
	return append(buf, ':')
}

// chunkSeq extracts the sequence number from a chunk key.
func chunkSeq(key []byte) (uint32, bool) {
	if len(key) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(key[len(key)-4:]), true
}

// seekLast returns the key to seek to when iterating prefix in reverse.
func seekLast(prefix []byte) []byte {
	buf := make([]byte, 0, len(prefix)+1)
	buf = append(buf, prefix...)
	return append(buf, 0xff)
}
