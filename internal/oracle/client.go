package oracle

import (
	"context"
	"net/http"
	"time"

	"sealedmsg/internal/httpx"
	"sealedmsg/internal/sealbox"
	"sealedmsg/internal/session"
)

// Client calls a remote oracle. It satisfies session.Oracle.
type Client struct {
	base string
	hc   *http.Client
}

func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = httpx.NewHTTPClient(20 * time.Second)
	}
	return &Client{base: baseURL, hc: hc}
}

// PublicKey fetches the key senders seal handles to, with the scope the
// oracle serves.
func (c *Client) PublicKey(ctx context.Context) (sealbox.PublicKey, string, error) {
	var out pubkeyResponse
	err := httpx.DoJSON(ctx, c.hc, httpx.Request{Method: http.MethodGet, URL: httpx.JoinURL(c.base, "/pubkey"), Out: &out})
	if err != nil {
		return sealbox.PublicKey{}, "", err
	}
	pk, err := sealbox.ParsePublicKey(out.PublicKey)
	if err != nil {
		return sealbox.PublicKey{}, "", err
	}
	return pk, out.Scope, nil
}

func (c *Client) Decrypt(ctx context.Context, req session.DecryptRequest) (map[string][]byte, error) {
	var out decryptResponse
	err := httpx.DoJSON(ctx, c.hc, httpx.Request{
		Method: http.MethodPost,
		URL:    httpx.JoinURL(c.base, "/decrypt"),
		In:     req,
		Out:    &out,
	})
	if err != nil {
		return nil, err
	}
	if out.Results == nil {
		out.Results = map[string][]byte{}
	}
	return out.Results, nil
}
