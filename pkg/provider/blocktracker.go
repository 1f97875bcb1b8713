package provider

// blockKind is the content type of one indexed block in a block-oriented
// stream.
type blockKind string

const (
	blockText     blockKind = "text"
	blockThinking blockKind = "thinking"
	blockToolUse  blockKind = "tool_use"
)

type openBlock struct {
	kind   blockKind
	callID string // set for tool_use blocks
}

// blockTracker is per-stream mutable state mapping content-block indices to
// the currently open block, so delta frames can be routed to the right
// event variant.
type blockTracker struct {
	open map[int]openBlock
}

func newBlockTracker() *blockTracker {
	return &blockTracker{open: make(map[int]openBlock)}
}

func (t *blockTracker) start(index int, kind blockKind, callID string) {
	t.open[index] = openBlock{kind: kind, callID: callID}
}

func (t *blockTracker) lookup(index int) (openBlock, bool) {
	b, ok := t.open[index]
	return b, ok
}

func (t *blockTracker) stop(index int) (openBlock, bool) {
	b, ok := t.open[index]
	if ok {
		delete(t.open, index)
	}
	return b, ok
}
