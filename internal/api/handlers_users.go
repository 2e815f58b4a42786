package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/points-leaderboard/internal/errors"
	"github.com/points-leaderboard/internal/service"
)

// handleListUsers handles POST /api/users - one page of the leaderboard
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	var input service.ListUsersInput
	if err := parseJSONBody(w, r, &input); err != nil {
		respondServiceError(w, r, err, errors.CodeInvalidRequestBody)
		return
	}

	result, err := s.userService.ListUsers(r.Context(), input)
	if err != nil {
		respondServiceError(w, r, err, errors.CodeFetchUsersFailed)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleGetUser handles POST /api/users/{address} and POST /api/user. The
// body address wins over the path segment.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	var input service.GetUserInput
	if err := parseJSONBody(w, r, &input); err != nil {
		respondServiceError(w, r, err, errors.CodeInvalidRequestBody)
		return
	}
	if input.Address == "" {
		input.Address = mux.Vars(r)["address"]
	}

	result, err := s.userService.GetUser(r.Context(), input)
	if err != nil {
		respondServiceError(w, r, err, errors.CodeFetchUserFailed)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleWeeklyPoints handles POST /api/users/weekly
func (s *Server) handleWeeklyPoints(w http.ResponseWriter, r *http.Request) {
	var input service.WeeklyPointsInput
	if err := parseJSONBody(w, r, &input); err != nil {
		respondServiceError(w, r, err, errors.CodeInvalidRequestBody)
		return
	}

	result, err := s.userService.WeeklyPoints(r.Context(), input)
	if err != nil {
		respondServiceError(w, r, err, errors.CodeFetchWeeklyPointsFailed)
		return
	}

	respondJSON(w, http.StatusOK, result)
}
