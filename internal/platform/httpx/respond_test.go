package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeProblem(t *testing.T, res *httptest.ResponseRecorder) ProblemDetail {
	t.Helper()
	assert.Equal(t, "application/problem+json", res.Header().Get("Content-Type"))
	var p ProblemDetail
	require.NoError(t, json.NewDecoder(res.Body).Decode(&p))
	return p
}

func TestRespondErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		detail string
	}{
		{fmt.Errorf("role 3: %w", ErrNotFound), http.StatusNotFound, "role 3: resource not found"},
		{ErrDuplicate, http.StatusConflict, "duplicate entry"},
		{fmt.Errorf("ambiguous: %w", ErrConflict), http.StatusConflict, "ambiguous: conflict"},
		{ErrValidation, http.StatusBadRequest, "validation failed"},
		{ErrForbidden, http.StatusForbidden, "forbidden"},
		{ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{fmt.Errorf("dial tcp: refused"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			res := httptest.NewRecorder()
			RespondError(res, tc.err)

			assert.Equal(t, tc.status, res.Code)
			p := decodeProblem(t, res)
			assert.Equal(t, tc.status, p.Status)
			assert.Equal(t, tc.detail, p.Detail)
		})
	}
}

func TestValidationProblemListsFields(t *testing.T) {
	type input struct {
		Latitude float64 `validate:"gte=-90,lte=90"`
		Name     string  `validate:"required"`
	}
	err := validator.New().Struct(input{Latitude: 120})
	require.Error(t, err)

	res := httptest.NewRecorder()
	ValidationProblem(res, err)

	assert.Equal(t, http.StatusBadRequest, res.Code)
	p := decodeProblem(t, res)
	assert.Equal(t, map[string]string{"Latitude": "lte", "Name": "required"}, p.Fields)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Value float64 `json:"value"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"value":2.5}`))
	require.NoError(t, DecodeJSON(req, &target))
	assert.Equal(t, 2.5, target.Value)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"value":2.5,"extra":true}`))
	assert.Error(t, DecodeJSON(req, &target))
}

func TestJSONWritesStatus(t *testing.T) {
	res := httptest.NewRecorder()
	JSON(res, http.StatusCreated, map[string]int{"id": 4})

	assert.Equal(t, http.StatusCreated, res.Code)
	assert.Equal(t, "application/json", res.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":4}`, res.Body.String())
}
