package metabase

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"regexp"
)

var embeddedPNG = regexp.MustCompile(`data:image/png;base64,([A-Za-z0-9+/=]+)`)

// CardImage renders a card as PNG. The pulse preview endpoint returns an HTML
// document with the chart embedded as base64; the largest embedded PNG is
// taken to be the chart, the rest being icons and thumbnails.
func (c *HTTPClient) CardImage(ctx context.Context, cardID int) ([]byte, error) {
	html, err := c.RequestText(ctx, Request{
		Method:   http.MethodGet,
		Endpoint: fmt.Sprintf("/api/pulse/preview_card/%d", cardID),
	})
	if err != nil {
		return nil, err
	}

	payload, ok := largestEmbeddedPNG(html)
	if !ok {
		return nil, &APIError{
			Message:    fmt.Sprintf("no image found in preview for card %d", cardID),
			StatusCode: http.StatusNotFound,
		}
	}

	img, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &APIError{Message: fmt.Sprintf("decode image for card %d: %v", cardID, err), Err: err}
	}
	return img, nil
}

// largestEmbeddedPNG returns the longest base64 PNG payload in html. Ties go
// to the earliest match.
func largestEmbeddedPNG(html string) (string, bool) {
	var best string
	for _, m := range embeddedPNG.FindAllStringSubmatch(html, -1) {
		if len(m[1]) > len(best) {
			best = m[1]
		}
	}
	return best, best != ""
}
