package apperr

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type body struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Limit   int64  `json:"limit,omitempty"`
	Used    int64  `json:"used,omitempty"`
	Tool    string `json:"tool,omitempty"`
}

// Write renders err as {"error": {...}} with the status HTTPStatus picks.
// Errors outside the taxonomy are logged and reported as INTERNAL.
func Write(w http.ResponseWriter, err error) {
	e := As(err)
	if e == nil {
		slog.Error("unhandled error", "error", err)
		e = Internal(err)
	}
	if e.Kind == KindInternal && e.Err != nil {
		slog.Error("internal error", "code", e.Code, "error", e.Err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(e))
	json.NewEncoder(w).Encode(map[string]body{
		"error": {Code: e.Code, Message: e.Message, Limit: e.Limit, Used: e.Used, Tool: e.Tool},
	})
}
