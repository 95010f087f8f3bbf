package utils

import (
	"regexp"
	"strings"
)

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`) // Characters invalid in Windows/Unix filenames
var filenameSeparators = regexp.MustCompile(`[\s_]+`)
const maxFilenameLength = 80

// formatExtensions maps decoder format names to file extensions
var formatExtensions = map[string]string{
	"jpeg": "jpg",
	"png":  "png",
	"gif":  "gif",
	"webp": "webp",
	"bmp":  "bmp",
}

// SanitizeFilename cleans a product name so it can be used as a filename stem
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")
	sanitized = filenameSeparators.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_. ")

	if len(sanitized) > maxFilenameLength {
		sanitized = strings.ToValidUTF8(sanitized[:maxFilenameLength], "")
		sanitized = strings.Trim(sanitized, "_. ")
	}

	if sanitized == "" {
		sanitized = "product"
	}
	return sanitized
}

// AttachmentFilename builds "<sanitized name>.<ext>" for a stored image
func AttachmentFilename(itemName, format string) string {
	ext, ok := formatExtensions[strings.ToLower(format)]
	if !ok {
		ext = "img"
	}
	return SanitizeFilename(itemName) + "." + ext
}
