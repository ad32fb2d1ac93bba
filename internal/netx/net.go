// Package netx is the client side of the upload API.
package netx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

// Client talks to one upload server on behalf of one org.
type Client struct {
	BaseURL string
	Token   string
	OrgID   string
	HTTP    *http.Client
}

// UploadResult is the server's reply to a finished upload.
type UploadResult struct {
	ID    string `json:"id"`
	Added bool   `json:"added"`
}

// FormFile is one file of a form upload.
type FormFile struct {
	Name string
	Body io.Reader
}

// StatusError is returned for any non-200 reply. Detail is the server's
// error code when the body carries one.
type StatusError struct {
	Status string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("upload failed: %s (%s)", e.Status, e.Detail)
	}
	return fmt.Sprintf("upload failed: %s", e.Status)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := fmt.Sprintf("%s/api/orgs/%s/uploads/%s", c.BaseURL, url.PathEscape(c.OrgID), path)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// StreamUpload sends body as a single file. A non-empty replaceID asks the
// server to overwrite that upload.
func (c *Client) StreamUpload(ctx context.Context, filename, name, notes, replaceID string, body io.Reader) (*UploadResult, error) {
	q := url.Values{"filename": {filename}}
	if name != "" {
		q.Set("name", name)
	}
	if notes != "" {
		q.Set("notes", notes)
	}
	if replaceID != "" {
		q.Set("replaceId", replaceID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint("stream", q), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	return c.do(req)
}

// FormUpload sends files as one multipart form. Bodies are streamed, never
// buffered whole.
func (c *Client) FormUpload(ctx context.Context, name, notes string, files []FormFile) (*UploadResult, error) {
	q := url.Values{}
	if name != "" {
		q.Set("name", name)
	}
	if notes != "" {
		q.Set("notes", notes)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeForm(mw, files))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint("formdata", q), pr)
	if err != nil {
		_ = pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := c.do(req)
	_ = pr.Close()
	return res, err
}

func writeForm(mw *multipart.Writer, files []FormFile) error {
	for _, f := range files {
		part, err := mw.CreateFormFile("uploads", f.Name)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, f.Body); err != nil {
			return fmt.Errorf("read %s: %w", f.Name, err)
		}
	}
	return mw.Close()
}

func (c *Client) do(req *http.Request) (*UploadResult, error) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, &StatusError{Status: resp.Status, Code: resp.StatusCode, Detail: body.Detail}
	}

	var res UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return &res, nil
}
