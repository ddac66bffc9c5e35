package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/vdavid/updateagent/internal/auth"
	"github.com/vdavid/updateagent/internal/models"
)

const maxBodyBytes = 1 << 20

// writeJSON encodes v and writes it with the given status.
// Encoding happens into a buffer first to prevent partial writes.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.Printf("API: Failed to encode response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Printf("API: Failed to write response: %v", err)
	}
}

// writeDetail writes a {"detail": "..."} error body.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeValidationErrors writes a 422 with one entry per invalid field.
func writeValidationErrors(w http.ResponseWriter, fieldErrors []models.FieldError) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string][]models.FieldError{"detail": fieldErrors})
}

func fieldError(field, msg string) models.FieldError {
	return models.FieldError{Loc: []string{"body", field}, Msg: msg}
}

// decodeBody reads a JSON request body into v. On failure it writes a 422
// and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		log.Printf("API: Failed to decode request: %v", err)
		msg := "Invalid JSON body"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			msg = "Request body too large"
		}
		writeValidationErrors(w, []models.FieldError{{Loc: []string{"body"}, Msg: msg}})
		return false
	}
	return true
}

// claimsFromRequest returns the authenticated caller or writes a 401.
func claimsFromRequest(w http.ResponseWriter, r *http.Request) (auth.Claims, bool) {
	claims, ok := auth.GetClaimsFromContext(r.Context())
	if !ok {
		log.Println("API: No claims in context")
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return auth.Claims{}, false
	}
	return claims, true
}
