package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// HTTPProvider uploads through the shop's file-hosting endpoint. When
// token credentials are configured the client authenticates with the
// OAuth2 client-credentials flow.
type HTTPProvider struct {
	uploadURL string
	client    *http.Client
	timeout   time.Duration
}

// NewHTTPProvider creates an HTTP upload provider
func NewHTTPProvider() *HTTPProvider {
	return &HTTPProvider{}
}

// Initialize sets up the provider. Config keys: uploadUrl (required),
// clientId/clientSecret/tokenUrl (optional OAuth2), timeoutSeconds.
func (h *HTTPProvider) Initialize(config map[string]string) error {
	h.uploadURL = config["uploadUrl"]
	if h.uploadURL == "" {
		return fmt.Errorf("uploadUrl is required for the httpapi storage provider")
	}

	h.timeout = 120 * time.Second
	if v := config["timeoutSeconds"]; v != "" {
		var secs int
		if _, err := fmt.Sscanf(v, "%d", &secs); err != nil || secs <= 0 {
			return fmt.Errorf("invalid timeoutSeconds %q", v)
		}
		h.timeout = time.Duration(secs) * time.Second
	}

	if id := config["clientId"]; id != "" {
		tokenURL := config["tokenUrl"]
		if tokenURL == "" {
			return fmt.Errorf("tokenUrl is required when clientId is set")
		}
		cc := clientcredentials.Config{
			ClientID:     id,
			ClientSecret: config["clientSecret"],
			TokenURL:     tokenURL,
		}
		h.client = cc.Client(context.Background())
	} else {
		h.client = &http.Client{}
	}
	return nil
}

// Upload streams the file as a multipart form and reads the public
// URL out of the response.
func (h *HTTPProvider) Upload(ctx context.Context, name, contentType string, content io.Reader, size int64, progress ProgressFunc) (*UploadResult, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			if err := form.WriteField("fileName", name); err != nil {
				return err
			}
			if err := form.WriteField("contentType", contentType); err != nil {
				return err
			}
			part, err := form.CreateFormFile("file", name)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, newCountingReader(content, size, progress)); err != nil {
				return err
			}
			return form.Close()
		}()
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.uploadURL, pr)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("upload rejected with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return parseUploadResult(body)
}

// parseUploadResult tolerates the hosting endpoint's field-name drift
// but refuses to invent a URL when none is present.
func parseUploadResult(body []byte) (*UploadResult, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("upload response is not a JSON object: %w", err)
	}

	fields := make(map[string]string)
	for k, v := range raw {
		norm := strings.ReplaceAll(strings.ToLower(k), "_", "")
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			fields[norm] = s
		}
	}

	res := &UploadResult{}
	for _, k := range []string{"publicurl", "fileurl", "url", "location"} {
		if fields[k] != "" {
			res.PublicURL = fields[k]
			break
		}
	}
	if res.PublicURL == "" {
		return nil, fmt.Errorf("upload response carries no public URL: %s", strings.TrimSpace(string(body)))
	}
	for _, k := range []string{"filekey", "key", "objectkey", "fileid"} {
		if fields[k] != "" {
			res.Key = fields[k]
			break
		}
	}
	return res, nil
}
