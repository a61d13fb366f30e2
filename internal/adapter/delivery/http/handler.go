package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/vadimbarashkov/tinylink/internal/entity"
	"github.com/vadimbarashkov/tinylink/internal/shortcode"
)

type linkUseCase interface {
	CreateLink(ctx context.Context, originalURL, customCode string) (*entity.Link, error)
	ResolveCode(ctx context.Context, code string) (string, error)
	GetLink(ctx context.Context, code string) (*entity.Link, error)
	ListLinks(ctx context.Context) ([]*entity.Link, error)
	DeleteLink(ctx context.Context, code string) error
}

type linkHandler struct {
	useCase  linkUseCase
	validate *validator.Validate
}

func newLinkHandler(useCase linkUseCase, validate *validator.Validate) *linkHandler {
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Registration only fails for an empty tag or a nil func.
	_ = validate.RegisterValidation("shortcode", func(fl validator.FieldLevel) bool {
		return shortcode.IsValid(fl.Field().String())
	})

	return &linkHandler{
		useCase:  useCase,
		validate: validate,
	}
}

func (h *linkHandler) createLink(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest

	if err := render.DecodeJSON(r.Body, &req); err != nil {
		if errors.Is(err, io.EOF) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, emptyRequestBodyResponse)
			return
		}

		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, invalidRequestBodyResponse)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, validationErrorResponse(err))
		return
	}

	link, err := h.useCase.CreateLink(r.Context(), req.URL, req.Code)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toLinkResponse(link))
}

func (h *linkHandler) redirect(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	dest, err := h.useCase.ResolveCode(r.Context(), code)
	if err != nil {
		renderError(w, r, err)
		return
	}

	http.Redirect(w, r, dest, http.StatusFound)
}

func (h *linkHandler) getLink(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	link, err := h.useCase.GetLink(r.Context(), code)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toLinkResponse(link))
}

func (h *linkHandler) listLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.useCase.ListLinks(r.Context())
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toLinkListResponse(links))
}

func (h *linkHandler) deleteLink(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	if err := h.useCase.DeleteLink(r.Context(), code); err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, deleteLinkResponse{Success: true})
}

// renderError maps a use case error onto its HTTP status. Anything unexpected
// is logged with the request and answered with a generic message.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, entity.ErrInvalidURL):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, invalidURLResponse)
	case errors.Is(err, entity.ErrInvalidCode):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, invalidCodeResponse)
	case errors.Is(err, entity.ErrCodeExists):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, codeExistsResponse)
	case errors.Is(err, entity.ErrLinkNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, linkNotFoundResponse)
	case errors.Is(err, entity.ErrCodeGenerationFailed):
		httplog.LogEntrySetField(r.Context(), "err", slog.AnyValue(err))

		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, codeGenerationFailedResponse)
	default:
		httplog.LogEntrySetField(r.Context(), "err", slog.AnyValue(err))

		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, serverErrorResponse)
	}
}
