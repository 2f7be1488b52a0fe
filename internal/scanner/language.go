package scanner

import "strings"

// languageMap maps file extensions and exact filenames to a language tag.
// The tag is advisory metadata on the File record (§3); extraction and
// chunking do not branch on it.
var languageMap = map[string]string{
	".go":         "go",
	".js":         "javascript",
	".jsx":        "javascript",
	".mjs":        "javascript",
	".ts":         "typescript",
	".tsx":        "typescript",
	".py":         "python",
	".pyw":        "python",
	".pyi":        "python",
	".html":       "html",
	".htm":        "html",
	".css":        "css",
	".scss":       "scss",
	".sass":       "sass",
	".less":       "less",
	".json":       "json",
	".yaml":       "yaml",
	".yml":        "yaml",
	".toml":       "toml",
	".xml":        "xml",
	".md":         "markdown",
	".mdx":        "markdown",
	".markdown":   "markdown",
	".sh":         "shell",
	".bash":       "shell",
	".rb":         "ruby",
	".rs":         "rust",
	".java":       "java",
	".kt":         "kotlin",
	".c":          "c",
	".h":          "c",
	".cpp":        "cpp",
	".hpp":        "cpp",
	".cc":         "cpp",
	".cs":         "csharp",
	".swift":      "swift",
	".php":        "php",
	".sql":        "sql",
	"Dockerfile":  "dockerfile",
	"Makefile":    "makefile",
	"makefile":    "makefile",
	"GNUmakefile": "makefile",
}

// DetectLanguage returns the language tag for a repo-relative path, or ""
// if unrecognized.
func DetectLanguage(path string) string {
	base := path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		base = path[i+1:]
	}
	if lang, ok := languageMap[base]; ok {
		return lang
	}
	if lang, ok := languageMap[extension(path)]; ok {
		return lang
	}
	return ""
}
