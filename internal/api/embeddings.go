package api

import (
	"net/http"

	"github.com/gaud-proxy/gaud/internal/apierr"
)

// Embeddings implements POST /v1/embeddings. No configured provider speaks
// the embeddings API today; the route exists so OpenAI-compatible clients
// get a well-formed error instead of a 404.
func (h *Handler) Embeddings(w http.ResponseWriter, r *http.Request) {
	apierr.Write(w, apierr.NotImplemented("embeddings are not supported by this deployment"))
}
