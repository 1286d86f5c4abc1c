package cache

import "fmt"

// 键语义：
// - fileKey(fileID): 文件行缓存（JSON），命中直接反序列化返回
// 用 {} 包住 fileID 做 hash tag，同一文件的键落在同一个槽上
const keyFileFmt = "file:{fileID:%s}"

func fileKey(fileID string) string { return fmt.Sprintf(keyFileFmt, fileID) }
