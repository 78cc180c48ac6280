package docker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// ImageSummary describes one locally stored image tag.
type ImageSummary struct {
	ID      string
	Tag     string
	Created int64
}

// InspectImage verifies an image exists locally and returns its identifier.
func (c *Client) InspectImage(ctx context.Context, ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", fmt.Errorf("image reference cannot be empty")
	}
	inspect, _, err := c.inner.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("inspect image: %w", err)
	}
	return inspect.ID, nil
}

// ListImages returns images whose repository matches prefix, newest first.
func (c *Client) ListImages(ctx context.Context, prefix string) ([]ImageSummary, error) {
	summaries, err := c.inner.ImageList(ctx, image.ListOptions{All: false})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	var out []ImageSummary
	for _, s := range summaries {
		for _, tag := range s.RepoTags {
			if strings.HasPrefix(tag, prefix) {
				out = append(out, ImageSummary{ID: s.ID, Tag: tag, Created: s.Created})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created > out[j].Created })
	return out, nil
}

// RemoveImage deletes an image tag.
func (c *Client) RemoveImage(ctx context.Context, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return fmt.Errorf("image reference cannot be empty")
	}
	_, err := c.inner.ImageRemove(ctx, ref, image.RemoveOptions{Force: true, PruneChildren: true})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}

// PruneDangling removes untagged layers left behind by rebuilds.
func (c *Client) PruneDangling(ctx context.Context) (uint64, error) {
	report, err := c.inner.ImagesPrune(ctx, filters.NewArgs(filters.Arg("dangling", "true")))
	if err != nil {
		return 0, fmt.Errorf("prune images: %w", err)
	}
	return report.SpaceReclaimed, nil
}
