package server

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"example.com/minihttpd/internal/handlers/staticfileserver"
	"example.com/minihttpd/internal/http1"
	"example.com/minihttpd/internal/logger"
	"example.com/minihttpd/internal/util"
)

// ConnHandler serves a single accepted connection and closes it.
type ConnHandler interface {
	ServeConn(conn net.Conn)
}

// RequestHandler answers exactly one static-file request per connection.
type RequestHandler struct {
	documentRoot string
	files        *staticfileserver.StaticFileServer
	log          *logger.Logger
	readTimeout  time.Duration
	now          func() time.Time
}

// NewRequestHandler returns a handler serving documentRoot through files.
// A zero readTimeout waits for the request line indefinitely.
func NewRequestHandler(documentRoot string, files *staticfileserver.StaticFileServer, lg *logger.Logger, readTimeout time.Duration) (*RequestHandler, error) {
	if documentRoot == "" {
		return nil, fmt.Errorf("document root cannot be empty")
	}
	if files == nil {
		return nil, fmt.Errorf("static file server cannot be nil")
	}
	if lg == nil {
		lg = logger.NewDiscardLogger()
	}
	return &RequestHandler{
		documentRoot: documentRoot,
		files:        files,
		log:          lg,
		readTimeout:  readTimeout,
		now:          time.Now,
	}, nil
}

// ServeConn reads one request, writes one response and closes conn.
func (h *RequestHandler) ServeConn(conn net.Conn) {
	defer conn.Close()
	peer := util.PeerAddr(conn)

	if h.readTimeout > 0 {
		if err := conn.SetReadDeadline(h.now().Add(h.readTimeout)); err != nil {
			h.log.Warn("Failed to set read deadline", logger.LogFields{"peer": peer, "error": err.Error()})
		}
	}

	br := bufio.NewReaderSize(conn, http1.MaxRequestLineLength)
	req, err := http1.ReadRequest(br)
	if errors.Is(err, http1.ErrRequestRead) {
		h.log.LogError(fmt.Sprintf("Failed to read request from %s: %v", peer, err))
		return
	}

	var resp *http1.Response
	if err != nil {
		resp = http1.ErrorResponse(http.StatusBadRequest, h.now())
	} else {
		resp = h.handle(req, peer)
	}
	if req != nil && req.IsHead() {
		resp.StripBody()
	}

	if _, werr := resp.WriteTo(conn); werr != nil {
		h.log.Warn("Failed to write response", logger.LogFields{"peer": peer, "status": resp.StatusCode, "error": werr.Error()})
	}
	line := ""
	if req != nil {
		line = req.Line
	}
	h.log.LogRequest(peer, line, resp.StatusCode)
}

// handle maps a parsed request onto the document root.
func (h *RequestHandler) handle(req *http1.Request, peer string) *http1.Response {
	webPath, err := req.CleanPath()
	if err != nil {
		return http1.ErrorResponse(http.StatusBadRequest, h.now())
	}

	rp, fi, err := staticfileserver.ResolveAndStat(h.documentRoot, webPath)
	if err != nil {
		status := http1.StatusCode(err)
		if status == http.StatusForbidden {
			h.log.LogError(fmt.Sprintf("Access denied for %s requesting %q: %v", peer, req.Path, err))
		} else {
			h.log.Debug("Resolve failed", logger.LogFields{"peer": peer, "path": webPath, "error": err.Error()})
		}
		return http1.ErrorResponse(status, h.now())
	}
	return h.files.Serve(rp, fi, req, webPath)
}
