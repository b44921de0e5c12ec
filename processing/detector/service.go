package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"pokerassist/internal/models"
)

const (
	DefaultTimeout     = 5 * time.Second
	DefaultJPEGQuality = 70

	inferPath     = "/infer"
	imageField    = "image"
	imageFilename = "frame.jpg"

	maxErrorBody = 1 << 10
	maxBody      = 4 << 20
)

// Endpoint runs one inference round trip.
type Endpoint interface {
	Infer(ctx context.Context, img image.Image) (*models.InferenceResponse, error)
}

type ClientConfig struct {
	BaseURL     string
	Timeout     time.Duration
	JPEGQuality int

	// HTTPClient overrides the default client limited to one connection per host.
	HTTPClient *http.Client
}

// RemoteDetector posts frames to the inference server.
type RemoteDetector struct {
	url     *url.URL
	client  *http.Client
	quality int
}

func NewRemoteDetector(cfg ClientConfig) (*RemoteDetector, error) {
	u, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxConnsPerHost:     1,
				MaxIdleConnsPerHost: 1,
				IdleConnTimeout:     30 * time.Second,
			},
		}
	}

	return &RemoteDetector{
		url:     u.JoinPath(inferPath),
		client:  client,
		quality: cfg.JPEGQuality,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return u, nil
}

func (d *RemoteDetector) URL() string {
	return d.url.String()
}

func (d *RemoteDetector) Infer(ctx context.Context, img image.Image) (*models.InferenceResponse, error) {
	body, contentType, err := d.encodeForm(img)
	if err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	request.Header.Set("Content-Type", contentType)
	request.Header.Set("Accept", "application/json")

	response, err := d.client.Do(request)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
		return nil, &ServerError{StatusCode: response.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}

	var resp models.InferenceResponse
	if err = json.NewDecoder(io.LimitReader(response.Body, maxBody)).Decode(&resp); err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDecoding, err)
	}

	return &resp, nil
}

// encodeForm writes img as the single JPEG part of a multipart body.
func (d *RemoteDetector) encodeForm(img image.Image) (*bytes.Buffer, string, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, "", ErrInvalidImage
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.SetBoundary("Boundary-" + uuid.NewString()); err != nil {
		return nil, "", fmt.Errorf("set boundary: %w", err)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, imageField, imageFilename))
	header.Set("Content-Type", "image/jpeg")

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create form: %w", err)
	}

	if err = imaging.Encode(part, img, imaging.JPEG, imaging.JPEGQuality(d.quality)); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	if err = writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}

	return body, writer.FormDataContentType(), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
