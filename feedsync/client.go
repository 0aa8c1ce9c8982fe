package feedsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"bitbucket.org/cvomotor/vehicles_backend/config"
	"bitbucket.org/cvomotor/vehicles_backend/utils"
	"github.com/cenkalti/backoff/v4"
)

type feedClient struct {
	baseURL string
	http    *http.Client
}

func newFeedClient() (*feedClient, error) {
	url := config.FeedURL()
	if url == "" {
		return nil, errors.New("FEED_URL not configured")
	}
	return &feedClient{
		baseURL: url,
		http:    &http.Client{Timeout: config.FeedFetchTimeout()},
	}, nil
}

// wire row: flat object with named photo-URL columns photo_url_1..photo_url_N.
type feedWireRow struct {
	Plate        string            `json:"plate"`
	Model        string            `json:"model"`
	Brand        string            `json:"brand"`
	Availability string            `json:"availability"`
	Extra        map[string]string `json:"-"`
}

func (r *feedWireRow) UnmarshalJSON(data []byte) error {
	type alias feedWireRow
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.Extra = make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			a.Extra[k] = s
		}
	}
	*r = feedWireRow(a)
	return nil
}

func (r *feedWireRow) photoURLs() []string {
	urls := make([]string, 0, maxPhotoSlots)
	last := 0
	for slot := 1; slot <= maxPhotoSlots; slot++ {
		url := r.Extra[fmt.Sprintf("photo_url_%d", slot)]
		urls = append(urls, url)
		if url != "" {
			last = slot
		}
	}
	return urls[:last]
}

// FetchFeed pulls one batch from the external feed. The upstream is untrusted
// and possibly slow: the request carries a timeout, transient failures are
// retried with exponential backoff, and a terminal failure surfaces
// ErrFeedUnavailable without having written anything.
func FetchFeed(ctx context.Context) ([]RawVehicleRow, error) {
	client, err := newFeedClient()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrFeedUnavailable, err)
	}

	var rows []RawVehicleRow
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, client.baseURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("feed returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("feed returned %d", resp.StatusCode))
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		var wire []feedWireRow
		if err := json.Unmarshal(body, &wire); err != nil {
			return backoff.Permanent(fmt.Errorf("decode feed payload: %w", err))
		}

		rows = rows[:0]
		for _, w := range wire {
			rows = append(rows, RawVehicleRow{
				Plate:        w.Plate,
				Model:        w.Model,
				Brand:        w.Brand,
				Availability: w.Availability,
				PhotoURLs:    w.photoURLs(),
			})
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrFeedUnavailable, err)
	}
	return rows, nil
}
