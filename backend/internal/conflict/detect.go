package conflict

// Outcome：版本比对结果。只有相等才算干净，
// current 比 base 大还是小不区分，一律按冲突处理（没有 fast-forward 特例）
type Outcome int

const (
	Clean Outcome = iota
	Conflict
)

func (o Outcome) String() string {
	if o == Clean {
		return "clean"
	}
	return "conflict"
}

// Detect 是纯函数：不碰存储、不碰网络，单独可测
func Detect(baseVersion, currentVersion uint64) Outcome {
	if baseVersion == currentVersion {
		return Clean
	}
	return Conflict
}

// Report 交给调用方做决策（重试新基线 / 放弃 / 强制覆盖），引擎自己不选
type Report struct {
	FileID          string `json:"fileId"`
	BaseVersion     uint64 `json:"baseVersion"`
	CurrentVersion  uint64 `json:"currentVersion"`
	RejectedContent string `json:"rejectedContent,omitempty"`
}
