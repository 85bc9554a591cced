// Package testutils provides shared test infrastructure: generated images,
// an HTTP server that serves them, and (with the integration build tag) a
// Minio container to cache them in.
package testutils

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// TestImage is a file served by StartImageServer.
type TestImage struct {
	Name        string
	Data        []byte
	ContentType string // Sniffed from Data when empty
}

// GeneratePNG encodes a w x h PNG. Different seeds produce different images.
func GeneratePNG(t *testing.T, w, h int, seed byte) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: byte(x) + seed, G: byte(y), B: seed, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// ImageServer serves a fixed set of images and counts the GET requests for
// each path.
type ImageServer struct {
	*httptest.Server

	mu       sync.Mutex
	images   map[string]TestImage
	requests map[string]int
}

// StartImageServer starts an HTTP server that serves images under
// "/<Name>". Unknown paths return 404. The server is closed when the test
// ends.
func StartImageServer(t *testing.T, images ...TestImage) *ImageServer {
	t.Helper()

	s := &ImageServer{
		images:   make(map[string]TestImage),
		requests: make(map[string]int),
	}
	for _, img := range images {
		s.images["/"+img.Name] = img
	}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		img, ok := s.images[r.URL.Path]
		if r.Method == http.MethodGet {
			s.requests[r.URL.Path]++
		}
		s.mu.Unlock()

		if !ok {
			http.NotFound(w, r)
			return
		}

		contentType := img.ContentType
		if contentType == "" {
			contentType = http.DetectContentType(img.Data)
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
		w.Header().Set("ETag", fmt.Sprintf(`"%s"`, img.Name))
		if r.Method == http.MethodHead {
			return
		}
		w.Write(img.Data)
	}))
	t.Cleanup(s.Close)
	return s
}

// URL returns the absolute URL of the named image.
func (s *ImageServer) URL(name string) string {
	return s.Server.URL + "/" + name
}

// Requests returns how many GET requests the named image received.
func (s *ImageServer) Requests(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests["/"+name]
}
