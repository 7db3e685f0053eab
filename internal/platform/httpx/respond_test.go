package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bindTarget struct {
	Flow    string `json:"flow" validate:"required,oneof=order_request purchase"`
	OrderID *int64 `json:"order_id" validate:"omitempty,gt=0"`
}

func TestRespondErrorMapsSentinels(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("composition abc: %w", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: pricing.override", ErrForbidden), http.StatusForbidden},
		{ErrValidation, http.StatusBadRequest},
		{ErrUnprocessable, http.StatusUnprocessableEntity},
		{ErrDuplicate, http.StatusConflict},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		RespondError(rr, tt.err)
		assert.Equal(t, tt.want, rr.Code, tt.err.Error())
	}
}

func TestBindReportsFieldProblems(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"flow":"invoice"}`))

	var target bindTarget
	problems, err := Bind(req, &target)
	require.NoError(t, err)
	require.Len(t, problems, 1)
	assert.Equal(t, "flow", problems[0].Field)
	assert.Equal(t, "must be one of order_request purchase", problems[0].Message)
}

func TestBindRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"flow":"purchase","extra":1}`))

	var target bindTarget
	_, err := Bind(req, &target)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestValidationProblemBody(t *testing.T) {
	rr := httptest.NewRecorder()
	ValidationProblem(rr, []FieldProblem{{Field: "counterparty", Message: "select a counterparty first"}})

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	var body ProblemDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "counterparty", body.Problems[0].Field)
}
