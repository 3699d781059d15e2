package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"rss_reader/internal/apperr"
	"rss_reader/internal/explore"
	"rss_reader/internal/model"
	"rss_reader/internal/refresh"
)

// FeedService manages the saved feeds.
type FeedService interface {
	Add(ctx context.Context, url string) (*model.Feed, error)
	Delete(ctx context.Context, url string) (*model.Feed, error)
	List(ctx context.Context) ([]model.Feed, error)
	Items(ctx context.Context, url string) (*model.Feed, []model.FeedItem, error)
	Favorites(ctx context.Context) ([]model.Feed, error)
	ToggleFavorite(ctx context.Context, url string) (*model.Feed, error)
	ToggleNotifications(ctx context.Context, url string) (*model.Feed, error)
}

// Refresher runs a refresh on demand.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type handler struct {
	feeds     FeedService
	catalog   *explore.Catalog
	refresher Refresher
	log       *slog.Logger
}

type feedRequest struct {
	URL string `json:"url"`
}

type feedResponse struct {
	URL                  string    `json:"url"`
	Title                string    `json:"title"`
	Description          string    `json:"description,omitempty"`
	ImageURL             string    `json:"image_url,omitempty"`
	IsFavorite           bool      `json:"is_favorite"`
	NotificationsEnabled bool      `json:"notifications_enabled"`
	CreatedAt            time.Time `json:"created_at"`
}

type itemResponse struct {
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	PubDate     *time.Time `json:"pub_date,omitempty"`
	Description string     `json:"description,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
}

type itemsResponse struct {
	Feed  feedResponse   `json:"feed"`
	Items []itemResponse `json:"items"`
}

type refreshResponse struct {
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listFeeds handles GET /api/feeds.
func (h *handler) listFeeds(w http.ResponseWriter, r *http.Request) {
	list := h.feeds.List
	if fav, _ := strconv.ParseBool(r.URL.Query().Get("favorites")); fav {
		list = h.feeds.Favorites
	}
	feeds, err := list(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]feedResponse, 0, len(feeds))
	for i := range feeds {
		out = append(out, toFeedResponse(&feeds[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// addFeed handles POST /api/feeds.
func (h *handler) addFeed(w http.ResponseWriter, r *http.Request) {
	url, ok := h.bodyURL(w, r)
	if !ok {
		return
	}
	feed, err := h.feeds.Add(r.Context(), url)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFeedResponse(feed))
}

// deleteFeed handles DELETE /api/feeds?url=.
func (h *handler) deleteFeed(w http.ResponseWriter, r *http.Request) {
	url, ok := h.queryURL(w, r)
	if !ok {
		return
	}
	if _, err := h.feeds.Delete(r.Context(), url); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// feedItems handles GET /api/feeds/items?url=.
func (h *handler) feedItems(w http.ResponseWriter, r *http.Request) {
	url, ok := h.queryURL(w, r)
	if !ok {
		return
	}
	feed, items, err := h.feeds.Items(r.Context(), url)
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := itemsResponse{Feed: toFeedResponse(feed), Items: make([]itemResponse, 0, len(items))}
	for _, it := range items {
		resp.Items = append(resp.Items, itemResponse{
			Title:       it.Title,
			Link:        it.Link,
			PubDate:     it.PubDate,
			Description: it.Description,
			ImageURL:    it.ImageURL,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// toggleFavorite handles POST /api/feeds/favorite.
func (h *handler) toggleFavorite(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.feeds.ToggleFavorite)
}

// toggleNotifications handles POST /api/feeds/notifications.
func (h *handler) toggleNotifications(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.feeds.ToggleNotifications)
}

func (h *handler) toggle(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (*model.Feed, error)) {
	url, ok := h.bodyURL(w, r)
	if !ok {
		return
	}
	feed, err := fn(r.Context(), url)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeedResponse(feed))
}

// explore handles GET /api/explore?category=.
func (h *handler) explore(w http.ResponseWriter, r *http.Request) {
	saved, err := h.feeds.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	suggestions := h.catalog.Suggestions(r.URL.Query().Get("category"), saved)
	if suggestions == nil {
		suggestions = []explore.Suggestion{}
	}
	writeJSON(w, http.StatusOK, suggestions)
}

// refresh handles POST /api/refresh.
func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Code: "unavailable", Message: "background refresh is not available"})
		return
	}
	err := h.refresher.Refresh(r.Context())
	var rerr *refresh.Error
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, refreshResponse{})
	case errors.As(err, &rerr):
		writeJSON(w, http.StatusOK, refreshResponse{Failed: rerr.Failed, Total: rerr.Total})
	default:
		h.writeError(w, err)
	}
}

func (h *handler) bodyURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req feedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: "request body must be JSON with a url field"})
		return "", false
	}
	if req.URL == "" {
		h.writeError(w, apperr.New(apperr.InvalidURL, "empty URL"))
		return "", false
	}
	return req.URL, true
}

func (h *handler) queryURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	url := r.URL.Query().Get("url")
	if url == "" {
		h.writeError(w, apperr.New(apperr.InvalidURL, "missing url parameter"))
		return "", false
	}
	return url, true
}

func toFeedResponse(f *model.Feed) feedResponse {
	return feedResponse{
		URL:                  f.URL,
		Title:                f.DisplayTitle(),
		Description:          f.Description,
		ImageURL:             f.ImageURL,
		IsFavorite:           f.IsFavorite,
		NotificationsEnabled: f.NotificationsEnabled,
		CreatedAt:            f.CreatedAt,
	}
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.InvalidURL:
		return http.StatusBadRequest
	case apperr.Network, apperr.Parse:
		return http.StatusBadGateway
	case apperr.DuplicateFeed:
		return http.StatusConflict
	case apperr.FeedNotFound:
		return http.StatusNotFound
	case apperr.PermissionDenied:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		h.log.Error("internal server error", "error", err)
	}
	writeJSON(w, status, errorResponse{Code: kind.String(), Message: apperr.UserMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
