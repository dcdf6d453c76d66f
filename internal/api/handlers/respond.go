package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	fhir "github.com/validrx/validrx/internal/fhir/r5"
)

// decodeJSON reads one JSON document, rejecting unknown fields and trailing data
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return decode(w, r, v, true)
}

// decodeFHIR tolerates unknown fields; resources carry elements the check does not read
func decodeFHIR(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return decode(w, r, v, false)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}, strict bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("body must contain a single JSON document")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeOutcome(w http.ResponseWriter, code int, outcome *fhir.OperationOutcome) {
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(outcome)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}
