package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/fix"
	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/service"
)

/* Common */
type HttpErrResponse struct {
	Err            error            `json:"-"`
	HTTPStatusCode int              `json:"-"`
	ErrorCode      string           `json:"error"`
	Fields         []fix.FieldError `json:"fields,omitempty"`
	RetryAfterS    int              `json:"retry_after,omitempty"`
}

func (e *HttpErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

type successResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

func respondData(w http.ResponseWriter, r *http.Request, data interface{}) {
	render.JSON(w, r, successResponse{Success: true, Data: data})
}

func httpErrUnauthorized() render.Renderer {
	return &HttpErrResponse{HTTPStatusCode: http.StatusUnauthorized, ErrorCode: service.CodeUnauthorized}
}

func httpErrNotFound() render.Renderer {
	return &HttpErrResponse{HTTPStatusCode: http.StatusNotFound, ErrorCode: service.CodeNotFound}
}

func httpErrInvalidRequest(err error) render.Renderer {
	return &HttpErrResponse{Err: err, HTTPStatusCode: http.StatusBadRequest, ErrorCode: "invalid_request"}
}

func httpErrUnexpected(err error) render.Renderer {
	return &HttpErrResponse{Err: err, HTTPStatusCode: http.StatusInternalServerError, ErrorCode: "internal_error"}
}

// httpErrPipeline maps the pipeline's rejection taxonomy onto status
// codes. Anything unrecognized is a server fault.
func httpErrPipeline(err error) render.Renderer {
	var perr *service.PipelineError
	if !errors.As(err, &perr) {
		return httpErrUnexpected(err)
	}

	resp := &HttpErrResponse{Err: perr, ErrorCode: perr.Code, Fields: perr.Fields}

	switch perr.Code {
	case service.CodeInvalidCoordinates, service.CodeAccuracyTooLow:
		resp.HTTPStatusCode = http.StatusUnprocessableEntity
	case service.CodeRateLimited:
		resp.HTTPStatusCode = http.StatusTooManyRequests
		resp.RetryAfterS = int(perr.RetryAfter.Seconds())
		if resp.RetryAfterS < 1 {
			resp.RetryAfterS = 1
		}
	case service.CodeUnauthorized:
		resp.HTTPStatusCode = http.StatusUnauthorized
	case service.CodeSubscriptionLocked:
		resp.HTTPStatusCode = http.StatusPaymentRequired
	case service.CodeNotFound:
		resp.HTTPStatusCode = http.StatusNotFound
	default:
		resp.HTTPStatusCode = http.StatusInternalServerError
	}

	return resp
}
