package publish

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/onnwee/clip-tender/youtubeapi"
)

// YouTube publishes through an authenticated YouTube Data API client.
type YouTube struct {
	svc        *youtubeapi.Service
	privacy    string
	categoryID string
}

// NewYouTube returns a publisher using svc. Empty privacy and category fall
// back to public and 22.
func NewYouTube(svc *youtubeapi.Service, privacy, categoryID string) *YouTube {
	return &YouTube{svc: svc, privacy: privacy, categoryID: categoryID}
}

func (y *YouTube) Publish(ctx context.Context, media, title, description string, tags []string) (string, error) {
	client, err := y.svc.Client(ctx)
	if err != nil {
		return "", err
	}
	id, err := youtubeapi.Upload(ctx, client, youtubeapi.Video{
		Path:        media,
		Title:       title,
		Description: description,
		Tags:        tags,
		CategoryID:  y.categoryID,
		Privacy:     y.privacy,
	})
	if err != nil {
		return "", err
	}
	slog.Default().Debug("youtube upload complete", slog.String("component", "publish"), slog.String("url", youtubeapi.WatchURL(id)))
	return id, nil
}

// DryRun logs uploads instead of performing them.
type DryRun struct{}

func (DryRun) Publish(ctx context.Context, media, title, description string, tags []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "dryrun-" + uuid.NewString()
	slog.Default().Info("dry-run: would upload",
		slog.String("component", "publish"),
		slog.String("media", media),
		slog.String("title", title),
		slog.Any("tags", tags),
		slog.String("remote_id", id))
	return id, nil
}
