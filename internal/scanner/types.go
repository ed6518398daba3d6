// Package scanner enumerates the indexables of a root: the files of a
// directory or the entries of a zip/jar archive, minus excluded, ignored,
// binary and oversized files.
package scanner

import (
	"mime"
	"path"
	"strings"
)

// Mime types assigned by the scanner.
const (
	MimeGo         = "text/x-go"
	MimeJavaScript = "text/javascript"
	MimeTypeScript = "text/typescript"
	MimeTSX        = "text/tsx"
	MimePython     = "text/x-python"
	MimeMarkdown   = "text/markdown"
	MimePlain      = "text/plain"
	MimeJSON       = "application/json"
	MimeYAML       = "application/yaml"
	MimeUnknown    = "application/octet-stream"
)

// languageMap maps file extensions and special file names to languages.
var languageMap = map[string]string{
	".go": "go",

	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".ts":  "typescript",
	".tsx": "tsx",

	".py":  "python",
	".pyw": "python",
	".pyi": "python",

	".html": "html",
	".htm":  "html",
	".css":  "css",
	".scss": "scss",

	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".toml": "toml",
	".xml":  "xml",
	".ini":  "ini",

	".md":       "markdown",
	".mdx":      "markdown",
	".markdown": "markdown",
	".rst":      "rst",
	".txt":      "text",

	".sh":   "shell",
	".bash": "shell",
	".zsh":  "shell",

	".rb":    "ruby",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cc":    "cpp",
	".cs":    "csharp",
	".swift": "swift",
	".php":   "php",
	".scala": "scala",
	".lua":   "lua",
	".sql":   "sql",
	".proto": "protobuf",

	"Dockerfile":  "dockerfile",
	"Makefile":    "makefile",
	"makefile":    "makefile",
	"GNUmakefile": "makefile",
}

// mimeByLanguage overrides the generic text/x-<language> mime type.
var mimeByLanguage = map[string]string{
	"go":         MimeGo,
	"javascript": MimeJavaScript,
	"typescript": MimeTypeScript,
	"tsx":        MimeTSX,
	"python":     MimePython,
	"markdown":   MimeMarkdown,
	"text":       MimePlain,
	"json":       MimeJSON,
	"yaml":       MimeYAML,
	"html":       "text/html",
	"css":        "text/css",
	"xml":        "application/xml",
}

// DetectLanguage detects the programming language from a file path.
func DetectLanguage(p string) string {
	base := path.Base(p)
	if lang, ok := languageMap[base]; ok {
		return lang
	}
	if lang, ok := languageMap[path.Ext(base)]; ok {
		return lang
	}
	return ""
}

// mimeForLanguage returns the mime type of a known language.
func mimeForLanguage(lang string) string {
	if m, ok := mimeByLanguage[lang]; ok {
		return m
	}
	return "text/x-" + lang
}

// mimeForExtension asks the system mime table about an unknown extension.
func mimeForExtension(ext string) string {
	if ext == "" {
		return MimeUnknown
	}
	t := mime.TypeByExtension(ext)
	if t == "" {
		return MimeUnknown
	}
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return t
}

// Default patterns excluded from every root, matched against the
// slash-separated relative path.
var defaultExcludes = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/.aws/**",
	"**/.ssh/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// Sensitive file names that are never indexed, matched against the base
// name.
var sensitiveFilePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*credentials*",
	"*secrets*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
}
