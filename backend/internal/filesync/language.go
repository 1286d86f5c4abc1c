package filesync

import (
	"path"
	"strings"
)

// 扩展名 → 语言标签。只影响前端语法渲染，不参与任何同步逻辑
var languageByExt = map[string]string{
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".go":    "go",
	".py":    "python",
	".rb":    "ruby",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".rs":    "rust",
	".kt":    "kotlin",
	".swift": "swift",
	".html":  "html",
	".htm":   "html",
	".css":   "css",
	".scss":  "scss",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".md":    "markdown",
	".sql":   "sql",
	".sh":    "shell",
	".bash":  "shell",
	".xml":   "xml",
}

const LanguagePlainText = "plaintext"

// DetectLanguage：按路径扩展名查表，查不到回退 plaintext
func DetectLanguage(filePath string) string {
	ext := strings.ToLower(path.Ext(filePath))
	if lang, ok := languageByExt[ext]; ok {
		return lang
	}
	return LanguagePlainText
}
