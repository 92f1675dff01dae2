// Package gzippedhttp decompresses gzip-encoded request bodies.
// Response compression is left to chi's middleware.Compress.
package gzippedhttp

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/zixialu/tinyapp/internal/logger"
)

// CompressedReader wraps an io.ReadCloser and decompresses its input using gzip.
type CompressedReader struct {
	r  io.ReadCloser
	zr *gzip.Reader
}

// NewCompressedReader returns a CompressedReader reading gzip-compressed data from requestBody.
func NewCompressedReader(requestBody io.ReadCloser) (*CompressedReader, error) {
	zippedRequestBody, err := gzip.NewReader(requestBody)
	if err != nil {
		return nil, err
	}

	return &CompressedReader{
		r:  requestBody,
		zr: zippedRequestBody,
	}, nil
}

func (c *CompressedReader) Read(p []byte) (n int, err error) {
	return c.zr.Read(p)
}

// Close closes both the gzip reader and the underlying body.
func (c *CompressedReader) Close() error {
	if err := c.r.Close(); err != nil {
		return err
	}
	return c.zr.Close()
}

// UngzipRequest replaces the body of a request sent with "Content-Encoding: gzip"
// by its decompressed stream. A body that is not valid gzip is answered with 400.
func UngzipRequest(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		contentEncoding := request.Header.Get("Content-Encoding")
		if strings.Contains(contentEncoding, "gzip") {
			requestBodyWithCompression, err := NewCompressedReader(request.Body)
			if err != nil {
				logger.Log.Debugln("Error calling the `NewCompressedReader()`: ", zap.Error(err))
				http.Error(response, "malformed gzip body", http.StatusBadRequest)
				return
			}
			request.Body = requestBodyWithCompression
			request.Header.Del("Content-Encoding")
			defer requestBodyWithCompression.Close()
		}

		h.ServeHTTP(response, request)
	}

	return http.HandlerFunc(middleware)
}
