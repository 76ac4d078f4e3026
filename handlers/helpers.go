package handlers

import (
	"encoding/json"
	"net/http"
)

type jsonResponse map[string]interface{}

func writeJSON(w http.ResponseWriter, status int, data interface{}, headers http.Header) error {
	js, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		return err
	}
	js = append(js, '\n')

	for key, value := range headers {
		w.Header()[key] = value
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(js)
	return err
}

func errorResponse(w http.ResponseWriter, status int, message interface{}) {
	if err := writeJSON(w, status, jsonResponse{"error": message}, nil); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// NotFound отвечает JSON вместо текстовой страницы chi.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	errorResponse(w, http.StatusNotFound, "the requested resource could not be found")
}

func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	errorResponse(w, http.StatusMethodNotAllowed, "the method is not supported for this resource")
}
