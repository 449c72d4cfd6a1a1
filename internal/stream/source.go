package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Source opens the live byte stream of a camera. The returned reader must
// unblock with an error once ctx is cancelled or the reader is closed.
type Source interface {
	Open(ctx context.Context, cameraID string) (io.ReadCloser, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, cameraID string) (io.ReadCloser, error)

// Open calls f.
func (f SourceFunc) Open(ctx context.Context, cameraID string) (io.ReadCloser, error) {
	return f(ctx, cameraID)
}

// URLResolver maps a camera ID to the URL of its MJPEG stream.
type URLResolver interface {
	StreamURL(ctx context.Context, cameraID string) (string, error)
}

// HTTPSource opens camera streams with a plain HTTP GET.
type HTTPSource struct {
	Resolver URLResolver
	// Client must not set a Timeout: it would cut long-lived streams.
	// Cancellation comes from the request context instead.
	Client *http.Client
}

// NewHTTPSource returns an HTTPSource using http.DefaultClient's transport.
func NewHTTPSource(resolver URLResolver) *HTTPSource {
	return &HTTPSource{
		Resolver: resolver,
		Client:   &http.Client{},
	}
}

// Open resolves the camera's stream URL and starts the request.
func (s *HTTPSource) Open(ctx context.Context, cameraID string) (io.ReadCloser, error) {
	url, err := s.Resolver.StreamURL(ctx, cameraID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve stream url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream %s returned %s", url, resp.Status)
	}
	return resp.Body, nil
}
