package backup

import (
	"path"
	"strings"
)

// Compression types.
const (
	CompressionGzip = "gzip"
	CompressionNone = "none"
)

// CompressionConfig controls archive compression
// Type values: "gzip", "none"
type CompressionConfig struct {
	Type  string `json:"type"`
	Level int    `json:"level,omitempty"`
}

func normalizeCompression(config CompressionConfig) CompressionConfig {
	compressionType := strings.ToLower(strings.TrimSpace(config.Type))
	if compressionType != CompressionNone {
		compressionType = CompressionGzip
	}
	if compressionType == CompressionNone {
		return CompressionConfig{Type: CompressionNone}
	}

	level := config.Level
	if level == 0 {
		level = 6
	}
	if level < 1 {
		level = 1
	}
	if level > 9 {
		level = 9
	}

	return CompressionConfig{
		Type:  compressionType,
		Level: level,
	}
}

func compressionArchiveExtension(config CompressionConfig) string {
	if normalizeCompression(config).Type == CompressionNone {
		return "tar"
	}
	return "tar.gz"
}

func compressionContentType(config CompressionConfig) string {
	if normalizeCompression(config).Type == CompressionNone {
		return "application/x-tar"
	}
	return "application/gzip"
}

func detectCompressionFromFilename(filename string) CompressionConfig {
	base := strings.ToLower(path.Base(filename))
	switch {
	case strings.HasSuffix(base, ".tar.gz") || strings.HasSuffix(base, ".tgz"):
		return CompressionConfig{Type: CompressionGzip, Level: 6}
	case strings.HasSuffix(base, ".tar"):
		return CompressionConfig{Type: CompressionNone}
	default:
		return CompressionConfig{Type: CompressionGzip, Level: 6}
	}
}

// ContentTypeFor returns the MIME type of an archive by its name.
func ContentTypeFor(filename string) string {
	return compressionContentType(detectCompressionFromFilename(filename))
}
