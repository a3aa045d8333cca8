package entity

import (
	"path/filepath"
	"strings"
)

// DefaultMimeType is reported for files with an unknown extension.
const DefaultMimeType = "application/octet-stream"

// mimeTypes maps lower-case file extensions to MIME types.
// It is read-only after package initialization.
var mimeTypes = map[string]string{
	// Text
	".txt":  "text/plain",
	".text": "text/plain",
	".log":  "text/plain",
	".csv":  "text/csv",
	".tsv":  "text/tab-separated-values",
	".md":   "text/markdown",
	".rst":  "text/x-rst",
	".ini":  "text/plain",
	".conf": "text/plain",

	// Java resources
	".properties": "text/x-java-properties",

	// Markup and data
	".html": "text/html",
	".htm":  "text/html",
	".xml":  "application/xml",
	".xsl":  "application/xml",
	".json": "application/json",
	".yaml": "application/x-yaml",
	".yml":  "application/x-yaml",
	".css":  "text/css",
	".js":   "application/javascript",
	".sql":  "application/sql",
	".sh":   "application/x-sh",

	// Office documents
	".pdf":  "application/pdf",
	".rtf":  "application/rtf",
	".doc":  "application/msword",
	".dot":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".odt":  "application/vnd.oasis.opendocument.text",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".odp":  "application/vnd.oasis.opendocument.presentation",

	// Archives
	".zip": "application/zip",
	".jar": "application/java-archive",
	".gz":  "application/gzip",
	".tar": "application/x-tar",

	// Images
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",

	// Media
	".mp3": "audio/mpeg",
	".mp4": "video/mp4",
}

// MimeTypeFor returns the MIME type implied by filename's extension, or
// DefaultMimeType.
func MimeTypeFor(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if mt, ok := mimeTypes[ext]; ok {
		return mt
	}
	return DefaultMimeType
}
