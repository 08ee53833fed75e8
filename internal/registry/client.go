package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"sealedmsg/internal/blob"
	"sealedmsg/internal/domain"
	"sealedmsg/internal/httpx"
)

// Client talks to a registry service. It serves as the mapping backend, the
// preview backend and the blob uploader of a client.
type Client struct {
	base string
	hc   *http.Client
}

func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = httpx.NewHTTPClient(15 * time.Second)
	}
	return &Client{base: baseURL, hc: hc}
}

// BlobURL is the gateway base for blobs mirrored by this registry.
func (c *Client) BlobURL() string { return httpx.JoinURL(c.base, "/blob") }

func (c *Client) PutMapping(ctx context.Context, rec domain.MappingRecord) error {
	return httpx.DoJSON(ctx, c.hc, httpx.Request{Method: http.MethodPost, URL: httpx.JoinURL(c.base, "/mapping"), In: rec})
}

func (c *Client) GetMapping(ctx context.Context, shortHash string) (*domain.MappingRecord, error) {
	var rec domain.MappingRecord
	err := httpx.DoJSON(ctx, c.hc, httpx.Request{
		Method: http.MethodGet,
		URL:    httpx.JoinURL(c.base, "/mapping/"+url.PathEscape(shortHash)),
		Out:    &rec,
	})
	if errors.Is(err, domain.ErrResolution) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) PutPreview(ctx context.Context, rec domain.PreviewRecord) error {
	return httpx.DoJSON(ctx, c.hc, httpx.Request{Method: http.MethodPost, URL: httpx.JoinURL(c.base, "/preview"), In: rec})
}

func (c *Client) GetPreview(ctx context.Context, messageID uint64) (*domain.PreviewRecord, error) {
	var rec domain.PreviewRecord
	err := httpx.DoJSON(ctx, c.hc, httpx.Request{
		Method: http.MethodGet,
		URL:    httpx.JoinURL(c.base, "/preview/"+strconv.FormatUint(messageID, 10)),
		Out:    &rec,
	})
	if errors.Is(err, domain.ErrResolution) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put uploads data to the registry's blob store.
func (c *Client) Put(ctx context.Context, data []byte, attrs blob.Attrs) (string, error) {
	q := url.Values{}
	for k, v := range attrs {
		q.Set(k, v)
	}
	u := httpx.JoinURL(c.base, "/blob/")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", domain.Transient("blob upload", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", httpx.ErrorFromResponse(resp)
	}
	var out blobAddress
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", domain.Transient("blob upload", err)
	}
	if out.Address != blob.Address(data) {
		return "", blob.ErrIntegrity
	}
	return out.Address, nil
}

// FindByAttribute runs the registry's metadata search.
func (c *Client) FindByAttribute(ctx context.Context, key, value string, limit int) (string, error) {
	q := url.Values{"key": {key}, "value": {value}, "limit": {strconv.Itoa(limit)}}
	var out blobAddress
	err := httpx.DoJSON(ctx, c.hc, httpx.Request{
		Method: http.MethodGet,
		URL:    httpx.JoinURL(c.base, "/blob/") + "?" + q.Encode(),
		Out:    &out,
	})
	if errors.Is(err, domain.ErrResolution) {
		return "", blob.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return out.Address, nil
}
