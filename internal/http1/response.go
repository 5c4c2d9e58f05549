package http1

import (
	"bufio"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ServerName is advertised in the Server header of every generated response.
const ServerName = "minihttpd/1.0"

// HeaderField represents a single HTTP header field (name-value pair).
type HeaderField struct {
	Name  string
	Value string
}

// Response is a complete HTTP/1.1 response. Headers are written in slice order
// and duplicates are kept as given.
type Response struct {
	StatusCode int
	Reason     string
	Headers    []HeaderField
	Body       []byte
}

// FormatDate renders t as an HTTP-date, e.g. "Sun, 10 Mar 2024 02:46:00 GMT".
func FormatDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// NewResponse builds a response with the standard header set:
// Content-Type (omitted when empty), Content-Length, Date, Server and
// Connection: close.
func NewResponse(statusCode int, contentType string, body []byte, now time.Time) *Response {
	headers := make([]HeaderField, 0, 5)
	if contentType != "" {
		headers = append(headers, HeaderField{Name: "Content-Type", Value: contentType})
	}
	headers = append(headers,
		HeaderField{Name: "Content-Length", Value: strconv.Itoa(len(body))},
		HeaderField{Name: "Date", Value: FormatDate(now)},
		HeaderField{Name: "Server", Value: ServerName},
		HeaderField{Name: "Connection", Value: "close"},
	)
	return &Response{
		StatusCode: statusCode,
		Reason:     http.StatusText(statusCode),
		Headers:    headers,
		Body:       body,
	}
}

// AddHeader appends a header field.
func (r *Response) AddHeader(name, value string) {
	r.Headers = append(r.Headers, HeaderField{Name: name, Value: value})
}

// Header returns the first value for name, compared case-insensitively.
func (r *Response) Header(name string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// StripBody drops the body but keeps every header, including Content-Length.
// Used for HEAD responses.
func (r *Response) StripBody() {
	r.Body = nil
}

// WriteTo serializes the status line, headers, a blank line and the body.
// Header values are written verbatim; they must not carry request data.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	reason := r.Reason
	if reason == "" {
		reason = http.StatusText(r.StatusCode)
	}

	bw := bufio.NewWriter(w)
	bw.WriteString("HTTP/1.1 ")
	bw.WriteString(strconv.Itoa(r.StatusCode))
	bw.WriteByte(' ')
	bw.WriteString(reason)
	bw.WriteString("\r\n")
	for _, h := range r.Headers {
		bw.WriteString(h.Name)
		bw.WriteString(": ")
		bw.WriteString(h.Value)
		bw.WriteString("\r\n")
	}
	bw.WriteString("\r\n")
	headerLen := int64(bw.Buffered())
	// Large bodies go straight through once the header block is flushed.
	if err := bw.Flush(); err != nil {
		return headerLen - int64(bw.Buffered()), err
	}
	if len(r.Body) == 0 {
		return headerLen, nil
	}
	n, err := w.Write(r.Body)
	return headerLen + int64(n), err
}
