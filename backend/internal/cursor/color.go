package cursor

import "hash/fnv"

// 固定调色板。颜色由 peerID 哈希决定，同一个 peer 在整个会话期间
// （包括断线重连）拿到的颜色不变
var palette = []string{
	"#e6194b", // red
	"#3cb44b", // green
	"#4363d8", // blue
	"#f58231", // orange
	"#911eb4", // purple
	"#42d4f4", // cyan
	"#f032e6", // magenta
	"#bfef45", // lime
	"#fabed4", // pink
	"#469990", // teal
}

func ColorFor(peerID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(peerID))
	return palette[h.Sum32()%uint32(len(palette))]
}
