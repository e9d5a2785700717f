package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/imaginethisprinted/aistudio/internal/api"
	"github.com/imaginethisprinted/aistudio/internal/domain"
	"github.com/imaginethisprinted/aistudio/internal/infra"
	"github.com/imaginethisprinted/aistudio/internal/service"
)

const maxBodyBytes = 1 << 20

type App struct {
	Products            *service.ProductService
	Logger              infra.Logger
	StripeWebhookSecret string
	// Ready checks the record store for the health endpoint. Nil means always ready.
	Ready func(ctx context.Context) error
}

func NewApp(products *service.ProductService, logger infra.Logger, stripeWebhookSecret string) *App {
	return &App{Products: products, Logger: logger, StripeWebhookSecret: stripeWebhookSecret}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, msg string) {
	a.json(w, code, api.ErrorResponse{Error: errCode, Message: msg})
}

// fail maps service errors onto HTTP responses.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		a.json(w, http.StatusBadRequest, api.ErrorResponse{Error: "validation_error", Message: verr.Error(), Fields: verr.Fields})
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrPrerequisiteMissing):
		a.error(w, http.StatusConflict, "prerequisite_missing", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrConflict):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("api: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched when
// optional is set.
func (a *App) decode(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}
