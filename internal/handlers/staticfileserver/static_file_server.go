package staticfileserver

import (
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"example.com/minihttpd/internal/config"
	"example.com/minihttpd/internal/http1"
	"example.com/minihttpd/internal/logger"
)

const listingContentType = "text/html; charset=utf-8"

// StaticFileServer turns a resolved path into a response: the file itself,
// a directory's index file, or a generated directory listing.
type StaticFileServer struct {
	indexFiles   []string
	listing      bool
	mimeResolver *MimeTypeResolver
	log          *logger.Logger
	now          func() time.Time
}

// New builds a StaticFileServer from the static_files section.
// mainConfigFilePath anchors a relative mime_types_path.
func New(cfg *config.StaticFilesConfig, lg *logger.Logger, mainConfigFilePath string) (*StaticFileServer, error) {
	if lg == nil {
		lg = logger.NewDiscardLogger()
	}

	mimeResolver, err := NewMimeTypeResolver(cfg, mainConfigFilePath)
	if err != nil {
		lg.Error("Failed to initialize MimeTypeResolver", logger.LogFields{"error": err.Error()})
		return nil, fmt.Errorf("static file server: %w", err)
	}

	sfs := &StaticFileServer{
		indexFiles:   []string{"index.html"},
		listing:      true,
		mimeResolver: mimeResolver,
		log:          lg,
		now:          time.Now,
	}
	if cfg != nil {
		if len(cfg.IndexFiles) > 0 {
			sfs.indexFiles = append([]string(nil), cfg.IndexFiles...)
		}
		if cfg.ServeDirectoryListing != nil {
			sfs.listing = *cfg.ServeDirectoryListing
		}
	}
	return sfs, nil
}

// Serve builds the response for rp, whose FileInfo fi was taken just before
// the call. webPath is the decoded request path and is used only for
// listing titles and links. HEAD handling is left to the caller.
func (sfs *StaticFileServer) Serve(rp ResolvedPath, fi os.FileInfo, req *http1.Request, webPath string) *http1.Response {
	if fi.IsDir() {
		return sfs.handleDirectory(rp, req, webPath)
	}
	return sfs.serveFile(rp, req)
}

func (sfs *StaticFileServer) handleDirectory(dir ResolvedPath, req *http1.Request, webPath string) *http1.Response {
	for _, indexFileName := range sfs.indexFiles {
		indexPath, err := dir.Child(indexFileName)
		if err != nil {
			if errors.Is(err, http1.ErrForbidden) {
				sfs.log.Warn("Index file resolves outside document root, skipping", logger.LogFields{
					"dir":        dir.Path(),
					"index_file": indexFileName,
					"error":      err.Error(),
				})
			}
			continue
		}
		indexFi, err := os.Stat(indexPath.Path())
		if err == nil && indexFi.Mode().IsRegular() {
			sfs.log.Debug("Serving index file", logger.LogFields{
				"dir":        dir.Path(),
				"index_file": indexFileName,
			})
			return sfs.serveFile(indexPath, req)
		}
	}

	if !sfs.listing {
		sfs.log.Info("No index file and directory listing disabled", logger.LogFields{"dir": dir.Path()})
		return http1.ErrorResponse(http.StatusForbidden, sfs.now())
	}

	body, err := sfs.generateDirectoryListingHTML(dir.Path(), webPath)
	if err != nil {
		sfs.log.LogError(fmt.Sprintf("Error generating directory listing for %s: %v", dir.Path(), err))
		return http1.ErrorResponse(http.StatusInternalServerError, sfs.now())
	}
	return http1.NewResponse(http.StatusOK, listingContentType, body, sfs.now())
}

func (sfs *StaticFileServer) serveFile(rp ResolvedPath, req *http1.Request) *http1.Response {
	data, err := os.ReadFile(rp.Path())
	if err != nil {
		sfs.log.LogError(fmt.Sprintf("Error reading file %s: %v", rp.Path(), err))
		return http1.ErrorResponse(http.StatusInternalServerError, sfs.now())
	}

	contentType := sfs.mimeResolver.GetMimeType(rp.Path())
	sfs.log.Debug("Serving file", logger.LogFields{
		"path":         rp.Path(),
		"method":       req.Method,
		"content_type": contentType,
		"size":         len(data),
	})
	return http1.NewResponse(http.StatusOK, contentType, data, sfs.now())
}

type listingEntry struct {
	name  string
	isDir bool
	size  int64
}

// generateDirectoryListingHTML lists the immediate children of dirPath in
// lexicographic order. Directories carry a trailing slash, files their size.
func (sfs *StaticFileServer) generateDirectoryListingHTML(dirPath string, webPath string) ([]byte, error) {
	dirEntries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("could not read directory %s: %w", dirPath, err)
	}

	entries := make([]listingEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		e := listingEntry{name: de.Name(), size: -1}
		// Stat follows symlinks so a link to a directory is listed as one.
		if fi, err := os.Stat(filepath.Join(dirPath, de.Name())); err == nil {
			e.isDir = fi.IsDir()
			if !e.isDir {
				e.size = fi.Size()
			}
		} else {
			e.isDir = de.IsDir()
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	if webPath == "" {
		webPath = "/"
	}
	base := webPath
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	escapedWebPath := html.EscapeString(webPath)

	var sb strings.Builder
	fmt.Fprintf(&sb, "<html><head><title>Index of %s</title></head><body>", escapedWebPath)
	fmt.Fprintf(&sb, "<h1>Index of %s</h1><ul>", escapedWebPath)
	if base != "/" {
		parent := path.Dir(strings.TrimSuffix(base, "/"))
		if !strings.HasSuffix(parent, "/") {
			parent += "/"
		}
		fmt.Fprintf(&sb, `<li><a href="%s">../</a></li>`, hrefFor(parent))
	}
	for _, e := range entries {
		display := e.name
		target := base + e.name
		if e.isDir {
			display += "/"
			target += "/"
		}
		fmt.Fprintf(&sb, `<li><a href="%s">%s</a>`, hrefFor(target), html.EscapeString(display))
		if e.size >= 0 {
			fmt.Fprintf(&sb, " (%s)", humanize.Bytes(uint64(e.size)))
		}
		sb.WriteString("</li>")
	}
	sb.WriteString("</ul></body></html>")
	return []byte(sb.String()), nil
}

// hrefFor percent-encodes a web path and makes it safe inside an attribute.
func hrefFor(p string) string {
	return html.EscapeString((&url.URL{Path: p}).EscapedPath())
}
