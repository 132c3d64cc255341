package server

import (
	"time"

	"fediwall/internal/mastodon"
	"fediwall/internal/models"
	"fediwall/internal/snapshot"

	"github.com/gofiber/fiber/v2"
)

const defaultSnapshotLimit = 40

// postsResponse is the snapshot endpoint's success body.
type postsResponse struct {
	Items []models.Post `json:"items"`
}

// GetPosts handles GET /api/posts, the one-shot catch-up query. Filter
// parameters share parsing and semantics with the live stream path; malformed
// values degrade to absent criteria rather than rejecting the request.
func (s *Server) GetPosts(c *fiber.Ctx) error {
	ctx := c.UserContext()

	limit := c.QueryInt("limit", defaultSnapshotLimit)
	if limit <= 0 {
		limit = defaultSnapshotLimit
	}
	if limit > mastodon.TimelinePageCap {
		limit = mastodon.TimelinePageCap
	}

	q := snapshot.Query{
		Criteria: criteriaFromQuery(c),
		Limit:    limit,
		Sort:     c.Query("sort"),
	}

	if since := c.Query("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			q.Since = t
		}
	}

	items, err := s.snapshotSvc.Run(ctx, q)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	if items == nil {
		items = []models.Post{}
	}
	return c.JSON(postsResponse{Items: items})
}

// criteriaFromQuery parses the shared filter parameters (q, lang, tag, local)
// permissively from the query string.
func criteriaFromQuery(c *fiber.Ctx) models.Criteria {
	var tags []string
	for _, raw := range c.Context().QueryArgs().PeekMulti("tag") {
		tags = append(tags, string(raw))
	}

	local := c.Query("local") == "true"

	return models.NewCriteria(c.Query("q"), c.Query("lang"), tags, local)
}
