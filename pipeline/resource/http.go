package resource

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"
)

// HTTPLoader resolves names that are http or https URLs by fetching them.
// Other names are left to the next resolver of a Chain.
//
// JSON, YAML and TOML bodies are decoded (by Content-Type, then by URL
// extension); text bodies become strings and anything else stays raw bytes.
type HTTPLoader struct {
	client   *http.Client
	headers  map[string]string
	decoders map[string]Decoder
}

// NewHTTPLoader creates a loader using client; nil means a default client.
// Timeouts are taken from the lookup context.
func NewHTTPLoader(client *http.Client) *HTTPLoader {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPLoader{
		client:   client,
		headers:  map[string]string{},
		decoders: DefaultDecoders(),
	}
}

// WithHeader adds a header sent with every request.
func (h *HTTPLoader) WithHeader(key, value string) *HTTPLoader {
	h.headers[key] = value
	return h
}

// Lookup implements Resolver. A 404 response is ErrNotFound; other non-2xx
// statuses are errors.
func (h *HTTPLoader) Lookup(ctx context.Context, name string) (any, error) {
	if !strings.HasPrefix(name, "http://") && !strings.HasPrefix(name, "https://") {
		return nil, fmt.Errorf("%q is not a URL: %w", name, ErrNotFound)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, name, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range h.headers {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetching %q: unexpected status %d", name, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	data, err := h.decode(name, resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %q: %w", name, err)
	}

	modTime := time.Now()
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			modTime = t
		}
	}
	return &File{Path: name, Data: data, ModTime: modTime}, nil
}

func (h *HTTPLoader) decode(url, contentType string, body []byte) (any, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	ext := ""
	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		ext = ".json"
	case mediaType == "application/yaml" || mediaType == "application/x-yaml" || mediaType == "text/yaml":
		ext = ".yaml"
	case mediaType == "application/toml":
		ext = ".toml"
	case strings.HasPrefix(mediaType, "text/"):
		ext = ".txt"
	default:
		u := url
		if i := strings.IndexAny(u, "?#"); i >= 0 {
			u = u[:i]
		}
		ext = strings.ToLower(path.Ext(u))
	}
	if dec, ok := h.decoders[ext]; ok {
		return dec(body)
	}
	return body, nil
}
