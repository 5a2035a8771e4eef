package sampler

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// maxFetchBytes caps remote and data-URL payloads.
const maxFetchBytes = 64 << 20

// Source is a still image, either raw bytes or a reference to fetch.
// References may be data: URLs, http(s) URLs or filesystem paths.
type Source struct {
	Ref  string
	Data []byte
}

// Bytes wraps already-loaded image bytes.
func Bytes(data []byte) Source {
	return Source{Ref: "<bytes>", Data: data}
}

// Ref refers to an image by URL or path.
func Ref(ref string) Source {
	return Source{Ref: ref}
}

func (s Source) String() string {
	if strings.HasPrefix(s.Ref, "data:") && len(s.Ref) > 32 {
		return s.Ref[:32] + "…"
	}
	return s.Ref
}

// fetch resolves the source to encoded image bytes.
func fetch(ctx context.Context, client *http.Client, s Source) ([]byte, error) {
	if s.Data != nil {
		return s.Data, nil
	}
	switch {
	case s.Ref == "":
		return nil, errors.New("empty source")
	case strings.HasPrefix(s.Ref, "data:"):
		return decodeDataURL(s.Ref)
	case strings.HasPrefix(s.Ref, "http://"), strings.HasPrefix(s.Ref, "https://"):
		return fetchHTTP(ctx, client, s.Ref)
	default:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return os.ReadFile(s.Ref)
	}
}

func fetchHTTP(ctx context.Context, client *http.Client, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch: %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxFetchBytes {
		return nil, fmt.Errorf("fetch: body exceeds %d bytes", maxFetchBytes)
	}
	return data, nil
}

// decodeDataURL handles data:[<mediatype>][;base64],<data>.
func decodeDataURL(ref string) ([]byte, error) {
	comma := strings.IndexByte(ref, ',')
	if comma < 0 {
		return nil, errors.New("data url: missing comma")
	}
	meta, payload := ref[len("data:"):comma], ref[comma+1:]
	if len(payload) > maxFetchBytes*4/3+4 {
		return nil, fmt.Errorf("data url: payload exceeds %d bytes", maxFetchBytes)
	}
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("data url: %w", err)
		}
		return data, nil
	}
	s, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("data url: %w", err)
	}
	return []byte(s), nil
}
