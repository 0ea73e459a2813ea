package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/alitto/pond/v2"

	"github.com/02loveslollipop/canal-flow-monitor/services/watcher/internal/models"
)

// Source names one feed to fetch.
type Source struct {
	Name string
	URL  string
}

// FetchFeed retrieves one telemetry feed payload.
func FetchFeed(ctx context.Context, client *http.Client, url string) (models.FeedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.FeedResponse{}, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return models.FeedResponse{}, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.FeedResponse{}, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var payload models.FeedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return models.FeedResponse{}, fmt.Errorf("decode payload: %w", err)
	}

	return payload, nil
}

// FetchAll fetches every source in parallel. Results are indexed like
// sources; a failing source fails the whole call.
func FetchAll(ctx context.Context, client *http.Client, sources []Source) ([]models.FeedResponse, error) {
	results := make([]models.FeedResponse, len(sources))
	if len(sources) == 0 {
		return results, nil
	}
	errs := make([]error, len(sources))

	pool := pond.NewPool(len(sources))
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for i, src := range sources {
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				errs[i] = err
				return
			}
			payload, err := FetchFeed(groupCtx, client, src.URL)
			if err != nil {
				errs[i] = fmt.Errorf("%s feed: %w", src.Name, err)
				return
			}
			results[i] = payload
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return nil, err
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return results, nil
}
