package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

// writeJSON renders v with the given status. Encoding failures are logged,
// not surfaced; headers are already gone by then.
func writeJSON(w http.ResponseWriter, log zerolog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("http.response_encode_failed")
	}
}

// decodeJSON parses a request body into dst with a size cap.
func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return decoder.Decode(dst)
}
