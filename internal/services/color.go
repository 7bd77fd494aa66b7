package services

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG decoder for album art
	_ "image/png"  // PNG decoder for album art
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/nfnt/resize"

	"github.com/songify/widget/internal/playback"
)

const (
	// thumbnailSize bounds the image before averaging; album art is 640px square.
	thumbnailSize = 64

	maxImageBytes = 8 << 20
)

var errTransparentImage = errors.New("image has no opaque pixels")

// ColorService computes the average colour of album art. Results are cached
// by URL since Spotify image URLs are content addressed.
type ColorService struct {
	httpClient *http.Client
	cacheSize  int

	mu    sync.Mutex
	cache map[string]playback.RGB
	order []string
}

// NewColorService creates a ColorService keeping at most cacheSize entries.
// A cacheSize of zero disables caching.
func NewColorService(cacheSize int) *ColorService {
	return &ColorService{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cacheSize: cacheSize,
		cache:     make(map[string]playback.RGB),
	}
}

// Extract downloads the image at imageURL and returns its average colour.
func (s *ColorService) Extract(ctx context.Context, imageURL string) (playback.RGB, error) {
	if rgb, ok := s.cached(imageURL); ok {
		return rgb, nil
	}

	img, err := s.fetch(ctx, imageURL)
	if err != nil {
		return playback.RGB{}, err
	}

	rgb, err := averageColor(img)
	if err != nil {
		return playback.RGB{}, err
	}

	s.store(imageURL, rgb)
	return rgb, nil
}

func (s *ColorService) fetch(ctx context.Context, imageURL string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create image request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image request failed with status %d", resp.StatusCode)
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// averageColor averages the opaque pixels of a downscaled copy of img in
// linear RGB, which keeps dark and bright regions from skewing the result.
func averageColor(img image.Image) (playback.RGB, error) {
	thumb := resize.Thumbnail(thumbnailSize, thumbnailSize, img, resize.Bilinear)
	bounds := thumb.Bounds()

	var r, g, b float64
	var n int
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c, ok := colorful.MakeColor(thumb.At(x, y))
			if !ok {
				continue
			}
			lr, lg, lb := c.LinearRgb()
			r += lr
			g += lg
			b += lb
			n++
		}
	}
	if n == 0 {
		return playback.RGB{}, errTransparentImage
	}

	avg := colorful.LinearRgb(r/float64(n), g/float64(n), b/float64(n)).Clamped()
	return playback.RGB{
		R: channel(avg.R),
		G: channel(avg.G),
		B: channel(avg.B),
	}, nil
}

func channel(v float64) uint8 {
	return uint8(math.Round(v * 255))
}

func (s *ColorService) cached(url string) (playback.RGB, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rgb, ok := s.cache[url]
	return rgb, ok
}

func (s *ColorService) store(url string, rgb playback.RGB) {
	if s.cacheSize <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache[url]; ok {
		return
	}
	if len(s.order) >= s.cacheSize {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.cache, oldest)
	}
	s.cache[url] = rgb
	s.order = append(s.order, url)
}
