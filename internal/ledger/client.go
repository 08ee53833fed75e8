package ledger

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"sealedmsg/internal/authz"
	"sealedmsg/internal/domain"
	"sealedmsg/internal/httpx"
	"sealedmsg/internal/jwtsigner"
)

const tokenTTL = time.Minute

// Client calls the ledger as one identity. Every request carries a freshly
// signed token.
type Client struct {
	base   string
	hc     *http.Client
	signer *jwtsigner.Signer
}

func NewClient(baseURL string, signer *jwtsigner.Signer, hc *http.Client) *Client {
	if hc == nil {
		hc = httpx.NewHTTPClient(15 * time.Second)
	}
	return &Client{base: baseURL, hc: hc, signer: signer}
}

func (c *Client) Identity() domain.Identity { return c.signer.Identity() }

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	tok, err := c.signer.Sign(Audience, tokenTTL, nil)
	if err != nil {
		return err
	}
	return httpx.DoJSON(ctx, c.hc, httpx.Request{
		Method: method,
		URL:    httpx.JoinURL(c.base, path),
		Token:  tok,
		In:     in,
		Out:    out,
	})
}

func messagePath(id uint64, suffix string) string {
	return "/messages/" + strconv.FormatUint(id, 10) + suffix
}

func (c *Client) CreateMessage(ctx context.Context, in CreateInput) (uint64, error) {
	var out createResponse
	if err := c.do(ctx, http.MethodPost, "/messages", in, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

func (c *Client) GetMetadata(ctx context.Context, id uint64) (domain.Metadata, error) {
	var md domain.Metadata
	err := c.do(ctx, http.MethodGet, messagePath(id, ""), nil, &md)
	return md, err
}

func (c *Client) ReadContent(ctx context.Context, id uint64) (string, error) {
	var out contentResponse
	if err := c.do(ctx, http.MethodGet, messagePath(id, "/content"), nil, &out); err != nil {
		return "", err
	}
	return out.ContentHandle, nil
}

func (c *Client) Pay(ctx context.Context, id, amount uint64) (domain.Metadata, error) {
	var md domain.Metadata
	err := c.do(ctx, http.MethodPost, messagePath(id, "/pay"), payRequest{Amount: amount}, &md)
	return md, err
}

func (c *Client) MarkRead(ctx context.Context, id uint64) (bool, error) {
	var out readResponse
	if err := c.do(ctx, http.MethodPost, messagePath(id, "/read"), nil, &out); err != nil {
		return false, err
	}
	return out.Latched, nil
}

func (c *Client) Inbox(ctx context.Context, limit int) ([]domain.Metadata, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []domain.Metadata
	err := c.do(ctx, http.MethodGet, "/inbox?"+q.Encode(), nil, &out)
	return out, err
}

// AccessClient asks the ledger whether a reader may have a handle decrypted.
type AccessClient struct {
	base  string
	token string
	hc    *http.Client
}

func NewAccessClient(baseURL, serviceToken string, hc *http.Client) *AccessClient {
	if hc == nil {
		hc = httpx.NewHTTPClient(10 * time.Second)
	}
	return &AccessClient{base: baseURL, token: serviceToken, hc: hc}
}

func (c *AccessClient) CheckAccess(ctx context.Context, reader domain.Identity, handle string) (uint64, error) {
	var out accessResponse
	err := httpx.DoJSON(ctx, c.hc, httpx.Request{
		Method: http.MethodPost,
		URL:    httpx.JoinURL(c.base, "/internal/access"),
		Header: http.Header{authz.ServiceTokenHeader: []string{c.token}},
		In:     accessRequest{Reader: reader, ContentHandle: handle},
		Out:    &out,
	})
	if err != nil {
		return 0, err
	}
	return out.MessageID, nil
}
