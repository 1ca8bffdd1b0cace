/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apiresponses

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/k8s-chartdeploy/pkg/deploy"
	"github.com/telekom/k8s-chartdeploy/pkg/failure"
)

// APIError represents a standardized error response.
// Success is always false; Field and Pattern are set for validation failures
// so the caller can correct the request.
type APIError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`
	Pattern string `json:"expectedPattern,omitempty"`
	Target  string `json:"target,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Status maps an error to its HTTP status and response code.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, deploy.ErrQueueFull), errors.Is(err, deploy.ErrStopped):
		return http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"
	case failure.ReasonOf(err) == failure.ReasonNameInUse:
		return http.StatusConflict, "CONFLICT"
	}
	switch failure.KindOf(err) {
	case failure.KindValidation:
		return http.StatusBadRequest, "BAD_REQUEST"
	case failure.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case failure.KindConfiguration:
		return http.StatusUnprocessableEntity, "UNPROCESSABLE_ENTITY"
	case failure.KindConnectivity:
		return http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"
	case failure.KindTimeout:
		return http.StatusGatewayTimeout, "GATEWAY_TIMEOUT"
	case failure.KindCommandExecution:
		return http.StatusBadGateway, "BAD_GATEWAY"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// RespondError sends the status Status picks for err. Typed failures are
// returned with their message and attribution; anything else is logged and
// replaced by a sanitized message naming the operation.
func RespondError(c *gin.Context, operation string, err error, log *zap.SugaredLogger) {
	status, code := Status(err)
	body := APIError{Code: code}

	fe, ok := failure.As(err)
	switch {
	case ok:
		body.Error = fe.Error()
		body.Field = fe.Field
		body.Pattern = fe.Pattern
		body.Target = string(fe.Target)
		body.Name = fe.Name
		if fe.Reason != failure.ReasonNone {
			body.Details = string(fe.Reason)
		}
	case status == http.StatusServiceUnavailable:
		body.Error = err.Error()
	default:
		body.Error = fmt.Sprintf("failed to %s", operation)
	}

	if log != nil {
		if status >= http.StatusInternalServerError {
			log.Errorw(fmt.Sprintf("Failed to %s", operation), "error", err, "status", status)
		} else {
			log.Infow(fmt.Sprintf("Rejected request to %s", operation), "error", err, "status", status)
		}
	}
	c.JSON(status, body)
}

// RespondBadRequest sends a 400 Bad Request response.
// Use this for client errors like malformed JSON or invalid parameters.
func RespondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, APIError{
		Error: message,
		Code:  "BAD_REQUEST",
	})
}

// RespondNotFoundSimple sends a 404 Not Found response with a simple message.
func RespondNotFoundSimple(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, APIError{
		Error: message,
		Code:  "NOT_FOUND",
	})
}

// RespondOK sends a 200 OK response with the given data.
func RespondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// RespondAccepted sends a 202 Accepted response. Deploy requests use it: the
// work continues after the response is written.
func RespondAccepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, data)
}
