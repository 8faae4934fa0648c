/*
Copyright 2023 Gravitational, Inc.

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

// Package httplib implements the JSON response envelope and error
// translation shared by every control endpoint.
package httplib

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"
)

// maxRequestBody bounds control request bodies.
const maxRequestBody = 1 << 20 // 1 MiB

// SuccessResponse is the envelope of every successful response.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

// ErrorResponse is the envelope of every failed response.
type ErrorResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// OK writes a 200 success envelope.
func OK(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, SuccessResponse{Success: true, Data: data})
}

// Created writes a 201 success envelope.
func Created(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusCreated, SuccessResponse{Success: true, Data: data})
}

// Error writes the failure envelope matching the error kind. Internal
// details never cross the boundary.
func Error(w http.ResponseWriter, err error) {
	code := ErrorToCode(err)
	message := trace.UserMessage(err)
	if code == http.StatusInternalServerError {
		message = "internal server error"
	}
	WriteJSON(w, code, ErrorResponse{Success: false, Error: message})
}

// RateLimited writes the 429 envelope with a retry-after hint in seconds.
func RateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(retryAfter.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	WriteJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Success:    false,
		Error:      "rate limit exceeded, try again later",
		RetryAfter: seconds,
	})
}

// ErrorToCode maps trace error kinds to HTTP status codes.
func ErrorToCode(err error) int {
	switch {
	case trace.IsBadParameter(err):
		return http.StatusBadRequest
	case trace.IsAccessDenied(err):
		return http.StatusUnauthorized
	case trace.IsNotFound(err):
		return http.StatusNotFound
	case trace.IsAlreadyExists(err):
		return http.StatusConflict
	case trace.IsLimitExceeded(err):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// ReadJSON decodes a bounded request body into v.
func ReadJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	if err := decoder.Decode(v); err != nil {
		return trace.BadParameter("malformed request body: %v", err)
	}
	return nil
}

// BearerToken extracts the bearer token from the Authorization header,
// falling back to the access_token query parameter used by websocket
// handshakes.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}

// SourceAddr returns the client address a rate limit bucket is keyed by.
func SourceAddr(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}
