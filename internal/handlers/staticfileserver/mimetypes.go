package staticfileserver

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"example.com/minihttpd/internal/config"
)

// builtinMimeTypes covers common extensions that mime.TypeByExtension only
// knows about when the host ships a mime.types file.
var builtinMimeTypes = map[string]string{
	".aac":   "audio/aac",
	".avi":   "video/x-msvideo",
	".bmp":   "image/bmp",
	".bz2":   "application/x-bzip2",
	".csv":   "text/csv; charset=utf-8",
	".doc":   "application/msword",
	".docx":  "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".eot":   "application/vnd.ms-fontobject",
	".epub":  "application/epub+zip",
	".gz":    "application/gzip",
	".ico":   "image/vnd.microsoft.icon",
	".ics":   "text/calendar; charset=utf-8",
	".jar":   "application/java-archive",
	".md":    "text/markdown; charset=utf-8",
	".mp3":   "audio/mpeg",
	".mp4":   "video/mp4",
	".mpeg":  "video/mpeg",
	".oga":   "audio/ogg",
	".ogv":   "video/ogg",
	".otf":   "font/otf",
	".rar":   "application/vnd.rar",
	".rtf":   "application/rtf",
	".sh":    "application/x-sh",
	".tar":   "application/x-tar",
	".tif":   "image/tiff",
	".tiff":  "image/tiff",
	".ttf":   "font/ttf",
	".txt":   "text/plain; charset=utf-8",
	".wav":   "audio/wav",
	".weba":  "audio/webm",
	".webm":  "video/webm",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".xhtml": "application/xhtml+xml; charset=utf-8",
	".xls":   "application/vnd.ms-excel",
	".xlsx":  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".yaml":  "application/yaml",
	".zip":   "application/zip",
	".7z":    "application/x-7z-compressed",
}

const defaultOctetStreamMimeType = "application/octet-stream"

// MimeTypeResolver maps file names to Content-Type values.
type MimeTypeResolver struct {
	customMimeTypes map[string]string
}

// NewMimeTypeResolver merges the inline mime_types map with the optional
// mime_types_path JSON file; file entries win. A relative mime_types_path is
// resolved against the directory of mainConfigFilePath.
func NewMimeTypeResolver(cfg *config.StaticFilesConfig, mainConfigFilePath string) (*MimeTypeResolver, error) {
	resolver := &MimeTypeResolver{customMimeTypes: make(map[string]string)}
	if cfg == nil {
		return resolver, nil
	}

	for ext, mimeType := range cfg.MimeTypesMap {
		resolver.customMimeTypes[strings.ToLower(ext)] = mimeType
	}

	if cfg.MimeTypesPath != nil && *cfg.MimeTypesPath != "" {
		mimePath := *cfg.MimeTypesPath
		if !filepath.IsAbs(mimePath) && mainConfigFilePath != "" {
			mimePath = filepath.Join(filepath.Dir(mainConfigFilePath), mimePath)
		}
		fromFile, err := LoadCustomMimeTypesFromFile(mimePath)
		if err != nil {
			return nil, &config.ConfigError{
				FilePath: mimePath,
				Message:  "failed to load custom MIME types file",
				Err:      err,
			}
		}
		for ext, mimeType := range fromFile {
			resolver.customMimeTypes[ext] = mimeType
		}
	}
	return resolver, nil
}

// GetMimeType resolves by extension: custom mappings, then
// mime.TypeByExtension, then the built-in table, then
// application/octet-stream.
func (r *MimeTypeResolver) GetMimeType(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	if ext == "" {
		return defaultOctetStreamMimeType
	}
	if mimeType, ok := r.customMimeTypes[ext]; ok {
		return mimeType
	}
	if mimeType := mime.TypeByExtension(ext); mimeType != "" {
		return mimeType
	}
	if mimeType, ok := builtinMimeTypes[ext]; ok {
		return mimeType
	}
	return defaultOctetStreamMimeType
}

// LoadCustomMimeTypesFromFile reads a JSON object of extension to MIME type.
// Extensions must start with '.', values must be non-empty; keys are
// lowercased.
func LoadCustomMimeTypesFromFile(filePath string) (map[string]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read MIME types file %q: %w", filePath, err)
	}

	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse JSON from MIME types file %q: %w", filePath, err)
	}

	out := make(map[string]string, len(parsed))
	for ext, mimeType := range parsed {
		if !strings.HasPrefix(ext, ".") {
			return nil, fmt.Errorf("invalid extension %q in MIME types file %q: must start with a '.'", ext, filePath)
		}
		if mimeType == "" {
			return nil, fmt.Errorf("empty MIME type for extension %q in MIME types file %q", ext, filePath)
		}
		out[strings.ToLower(ext)] = mimeType
	}
	return out, nil
}
