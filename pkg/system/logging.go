// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReqLoggerKey is the context key used to store request-scoped logger in gin context.
const ReqLoggerKey = "reqLogger"

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// pathParams are copied onto the request logger when the route defines them.
var pathParams = []string{"clusterId", "repository", "chart", "release"}

// RequestLogger stores a request-scoped logger carrying the request id, taken
// from the X-Request-ID header or generated, and echoes the id back.
func RequestLogger(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Set(ReqLoggerKey, base.With("requestId", id, "method", c.Request.Method, "route", c.FullPath()))
		c.Next()
	}
}

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise returns the fallback logger.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// EnrichReqLoggerWithParams annotates the request-scoped logger with the
// cluster, repository, chart and release path parameters of the route.
func EnrichReqLoggerWithParams(c *gin.Context, reqLogger *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil || reqLogger == nil {
		return reqLogger
	}
	for _, p := range pathParams {
		if v := c.Param(p); v != "" {
			reqLogger = reqLogger.With(p, v)
		}
	}
	return reqLogger
}

// ReleaseFields returns key/value pairs for SugaredLogger.With or Infow.
// namespace is omitted when empty.
func ReleaseFields(release, namespace, clusterID string) []interface{} {
	fields := []interface{}{"release", release, "cluster", clusterID}
	if namespace != "" {
		fields = append(fields, "namespace", namespace)
	}
	return fields
}
