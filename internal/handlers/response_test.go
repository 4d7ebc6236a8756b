package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"collateral-backend/internal/services"

	"github.com/stretchr/testify/assert"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{services.ErrInvalidAmount, http.StatusBadRequest},
		{fmt.Errorf("deposit: %w", services.ErrUnauthorized), http.StatusForbidden},
		{services.ErrInsufficientBalance, http.StatusUnprocessableEntity},
		{services.ErrRequestNotFound, http.StatusNotFound},
		{fmt.Errorf("request 3: %w", services.ErrAlreadyProcessed), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusForError(tc.err), tc.err.Error())
	}
}
