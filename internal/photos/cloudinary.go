// Package photos stores kiosk check-in photos so the face service can fetch them by URL.
package photos

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no cloud credentials were supplied.
var ErrNotConfigured = errors.New("photo storage not configured")

// Photo is an uploaded check-in image.
type Photo struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int    `json:"bytes"`
}

// Cloudinary uploads signed images to a Cloudinary account.
type Cloudinary struct {
	cloud  string
	key    string
	secret string
	folder string

	endpoint string
	http     *http.Client
	now      func() time.Time
}

// NewCloudinary returns nil when any credential is missing.
func NewCloudinary(cloud, key, secret, folder string) *Cloudinary {
	if cloud == "" || key == "" || secret == "" {
		return nil
	}
	return &Cloudinary{
		cloud:    cloud,
		key:      key,
		secret:   secret,
		folder:   folder,
		endpoint: "https://api.cloudinary.com",
		http:     &http.Client{Timeout: 30 * time.Second},
		now:      time.Now,
	}
}

// Upload stores one image for studentID and returns its public URL.
func (c *Cloudinary) Upload(ctx context.Context, studentID, filename string, data []byte) (*Photo, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	if len(data) == 0 {
		return nil, errors.New("photos: empty image")
	}

	params := map[string]string{
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
		"tags":      "checkin,student_" + studentID,
	}
	if c.folder != "" {
		params["folder"] = c.folder
	}
	params["signature"] = sign(params, c.secret)
	params["api_key"] = c.key

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1_1/%s/image/upload", c.endpoint, c.cloud)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("photos: upload: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("photos: upload failed (%d): %s", resp.StatusCode, body)
	}
	var p Photo
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("photos: decode response: %w", err)
	}
	return &p, nil
}

// sign builds the request signature: sorted key=value pairs joined by '&',
// followed by the secret, hashed with SHA-1.
func sign(params map[string]string, secret string) string {
	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if v != "" {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}
