package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/storylineai/storyline/internal/database"
	"github.com/storylineai/storyline/internal/database/models"
)

// storyRequest is the JSON request body for creating/updating a story.
type storyRequest struct {
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	AgeMin      int      `json:"age_min"`
	AgeMax      int      `json:"age_max"`
	Themes      []string `json:"themes"`
	Language    string   `json:"language"`
	DurationMin int      `json:"duration_min"`
}

// storyResponse is the JSON response for a single story.
type storyResponse struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	AgeMin      int      `json:"age_min"`
	AgeMax      int      `json:"age_max"`
	Themes      []string `json:"themes"`
	Language    string   `json:"language"`
	DurationMin int      `json:"duration_min"`
	Source      string   `json:"source"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

func toStoryResponse(s *models.Story) storyResponse {
	themes := s.Themes
	if themes == nil {
		themes = []string{}
	}
	return storyResponse{
		ID:          s.ID,
		Title:       s.Title,
		Body:        s.Body,
		AgeMin:      s.AgeMin,
		AgeMax:      s.AgeMax,
		Themes:      themes,
		Language:    s.Language,
		DurationMin: s.DurationMin,
		Source:      s.Source,
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   s.UpdatedAt.Format(time.RFC3339),
	}
}

func (req *storyRequest) validate() string {
	if strings.TrimSpace(req.Title) == "" {
		return "title is required"
	}
	if strings.TrimSpace(req.Body) == "" {
		return "body is required"
	}
	if req.AgeMin < 0 || req.AgeMax < req.AgeMin {
		return "invalid age range"
	}
	return ""
}

// handleListStories returns catalog stories, optionally filtered by age,
// language or theme query parameters.
func (s *Server) handleListStories(w http.ResponseWriter, r *http.Request) {
	var filter database.StoryFilter

	q := r.URL.Query()
	if v := q.Get("age"); v != "" {
		age, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid age parameter")
			return
		}
		filter.Age = &age
	}
	filter.Language = q.Get("language")
	filter.Theme = q.Get("theme")
	filter.Source = q.Get("source")
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset parameter")
			return
		}
		filter.Offset = offset
	}

	stories, err := s.stories.Search(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing stories failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]storyResponse, 0, len(stories))
	for i := range stories {
		resp = append(resp, toStoryResponse(&stories[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCreateStory adds a new catalog story.
func (s *Server) handleCreateStory(w http.ResponseWriter, r *http.Request) {
	var req storyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	story := &models.Story{
		Title:       strings.TrimSpace(req.Title),
		Body:        req.Body,
		AgeMin:      req.AgeMin,
		AgeMax:      req.AgeMax,
		Themes:      req.Themes,
		Language:    req.Language,
		DurationMin: req.DurationMin,
		Source:      models.StorySourceCatalog,
	}
	if story.Language == "" {
		story.Language = "en"
	}

	if err := s.stories.Create(r.Context(), story); err != nil {
		s.logger.Error("creating story failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	created, err := s.stories.GetByID(r.Context(), story.ID)
	if err != nil || created == nil {
		s.logger.Error("loading created story failed", "id", story.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, toStoryResponse(created))
}

// handleGetStory returns a single story by ID.
func (s *Server) handleGetStory(w http.ResponseWriter, r *http.Request) {
	story, err := s.stories.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("loading story failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if story == nil {
		writeError(w, http.StatusNotFound, "story not found")
		return
	}
	writeJSON(w, http.StatusOK, toStoryResponse(story))
}

// handleUpdateStory replaces a story's content and targeting metadata.
func (s *Server) handleUpdateStory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	story, err := s.stories.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("loading story failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if story == nil {
		writeError(w, http.StatusNotFound, "story not found")
		return
	}

	var req storyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	story.Title = strings.TrimSpace(req.Title)
	story.Body = req.Body
	story.AgeMin = req.AgeMin
	story.AgeMax = req.AgeMax
	story.Themes = req.Themes
	if req.Language != "" {
		story.Language = req.Language
	}
	story.DurationMin = req.DurationMin

	if err := s.stories.Update(r.Context(), story); err != nil {
		s.logger.Error("updating story failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := s.stories.GetByID(r.Context(), id)
	if err != nil || updated == nil {
		s.logger.Error("loading updated story failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toStoryResponse(updated))
}

// handleDeleteStory removes a story from the catalog.
func (s *Server) handleDeleteStory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	story, err := s.stories.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("loading story failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if story == nil {
		writeError(w, http.StatusNotFound, "story not found")
		return
	}

	if err := s.stories.Delete(r.Context(), id); err != nil {
		s.logger.Error("deleting story failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "story deleted"})
}
