package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/storylineai/storyline/internal/database/models"
	"github.com/storylineai/storyline/internal/identity"
	"github.com/storylineai/storyline/internal/usage"
)

// callerResponse is the JSON response for a single caller account.
type callerResponse struct {
	ID          int64  `json:"id"`
	PhoneNumber string `json:"phone_number"`
	Tier        string `json:"tier"`
	Language    string `json:"language"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toCallerResponse(a *models.CallerAccount) callerResponse {
	return callerResponse{
		ID:          a.ID,
		PhoneNumber: a.PhoneNumber,
		Tier:        a.Tier,
		Language:    a.Language,
		CreatedAt:   a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   a.UpdatedAt.Format(time.RFC3339),
	}
}

// childResponse is the JSON response for a single child profile.
type childResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Age         int      `json:"age"`
	Interests   []string `json:"interests"`
	Language    string   `json:"language"`
	PhoneNumber string   `json:"phone_number"`
	StoryCount  int64    `json:"story_count"`
	LastStoryAt string   `json:"last_story_at,omitempty"`
	CreatedAt   string   `json:"created_at"`
}

func toChildResponse(c *models.ChildProfile) childResponse {
	interests := c.Interests
	if interests == nil {
		interests = []string{}
	}
	resp := childResponse{
		ID:          c.ID,
		Name:        c.Name,
		Age:         c.Age,
		Interests:   interests,
		Language:    c.Language,
		PhoneNumber: c.PhoneNumber,
		StoryCount:  c.StoryCount,
		CreatedAt:   c.CreatedAt.Format(time.RFC3339),
	}
	if c.LastStoryAt != nil {
		resp.LastStoryAt = c.LastStoryAt.Format(time.RFC3339)
	}
	return resp
}

// handleListCallers returns all caller accounts.
func (s *Server) handleListCallers(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.accounts.List(r.Context())
	if err != nil {
		s.logger.Error("listing callers failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]callerResponse, 0, len(accounts))
	for i := range accounts {
		resp = append(resp, toCallerResponse(&accounts[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

type setTierRequest struct {
	Tier string `json:"tier"`
}

// handleSetTier changes a caller's subscription tier.
func (s *Server) handleSetTier(w http.ResponseWriter, r *http.Request) {
	phone := identity.Normalize(chi.URLParam(r, "phone"))
	if phone == "" {
		writeError(w, http.StatusBadRequest, "invalid phone number")
		return
	}

	var req setTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Tier {
	case models.TierFree, models.TierBasic, models.TierPremium, models.TierFamily:
	default:
		writeError(w, http.StatusBadRequest, "unknown tier")
		return
	}

	acct, err := s.accounts.GetByPhone(r.Context(), phone)
	if err != nil {
		s.logger.Error("loading caller failed", "phone", phone, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if acct == nil {
		writeError(w, http.StatusNotFound, "caller not found")
		return
	}

	if err := s.accounts.SetTier(r.Context(), phone, req.Tier); err != nil {
		s.logger.Error("setting tier failed", "phone", phone, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("caller tier changed", "phone", phone, "tier", req.Tier)
	acct.Tier = req.Tier
	writeJSON(w, http.StatusOK, toCallerResponse(acct))
}

// handleListChildren returns the child profiles registered under a caller.
func (s *Server) handleListChildren(w http.ResponseWriter, r *http.Request) {
	phone := identity.Normalize(chi.URLParam(r, "phone"))
	if phone == "" {
		writeError(w, http.StatusBadRequest, "invalid phone number")
		return
	}

	children, err := s.children.ListByPhone(r.Context(), phone)
	if err != nil {
		s.logger.Error("listing children failed", "phone", phone, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]childResponse, 0, len(children))
	for i := range children {
		resp = append(resp, toChildResponse(&children[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// usageResponse is the JSON response for a caller's current month usage.
type usageResponse struct {
	PhoneNumber     string `json:"phone_number"`
	MonthYear       string `json:"month_year"`
	StoriesConsumed int    `json:"stories_consumed"`
}

// handleGetUsage returns a caller's consumption for the current calendar month.
func (s *Server) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	phone := identity.Normalize(chi.URLParam(r, "phone"))
	if phone == "" {
		writeError(w, http.StatusBadRequest, "invalid phone number")
		return
	}

	month := usage.MonthKey(time.Now())
	if v := r.URL.Query().Get("month"); v != "" {
		if _, err := time.Parse("2006-01", v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid month parameter, expected YYYY-MM")
			return
		}
		month = v
	}

	record, err := s.usage.Get(r.Context(), phone, month)
	if err != nil {
		s.logger.Error("loading usage failed", "phone", phone, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := usageResponse{PhoneNumber: phone, MonthYear: month}
	if record != nil {
		resp.StoriesConsumed = record.StoriesConsumed
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDeleteChild removes a child profile and its play history.
func (s *Server) handleDeleteChild(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	child, err := s.children.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("loading child failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if child == nil {
		writeError(w, http.StatusNotFound, "child not found")
		return
	}

	if err := s.children.Delete(r.Context(), id); err != nil {
		s.logger.Error("deleting child failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "child profile deleted"})
}
