package composerhttp

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/backoffice/internal/catalog"
	"github.com/odyssey-erp/backoffice/internal/composer"
	"github.com/odyssey-erp/backoffice/internal/editor"
	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

var errNotInResults = errors.New("not in current search results")

func notInResults(id int64) error {
	return &composer.ValidationError{Problems: []composer.Problem{{
		Field:   "id",
		Message: fmt.Sprintf("%d is %s", id, errNotInResults),
	}}}
}

func forbidden(perm string) error {
	return fmt.Errorf("%w: %s", shared.ErrForbidden, perm)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *composer.ValidationError
		perr *composer.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		problems := make([]httpx.FieldProblem, 0, len(verr.Problems))
		for _, p := range verr.Problems {
			problems = append(problems, httpx.FieldProblem{Field: p.Field, Message: p.Message})
		}
		httpx.ValidationProblem(w, problems)
	case errors.As(err, &perr):
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Title:  "Unprocessable Entity",
			Status: http.StatusUnprocessableEntity,
			Detail: perr.Message,
			Field:  perr.Field,
		})
	case errors.Is(err, composer.ErrLineNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, catalog.ErrUnsupportedFilter):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, composer.ErrClosed),
		errors.Is(err, composer.ErrSubmitInProgress),
		errors.Is(err, editor.ErrInvalidTransition),
		errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		if !errors.Is(err, shared.ErrNotFound) && !errors.Is(err, shared.ErrForbidden) && !errors.Is(err, httpx.ErrValidation) {
			h.logger.Error("composer request failed",
				slog.String("path", r.URL.Path),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}
