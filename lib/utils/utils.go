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

// Package utils provides small helpers shared across the gateway.
package utils

import (
	"net"
	"regexp"
	"strings"

	"github.com/gravitational/trace"
	jsoniter "github.com/json-iterator/go"
)

// fastjson is a drop in replacement for the standard JSON codec used on the
// hot path of the stream channel.
var fastjson = jsoniter.ConfigCompatibleWithStandardLibrary

// FastMarshal serializes v with the fast JSON codec.
func FastMarshal(v interface{}) ([]byte, error) {
	data, err := fastjson.Marshal(v)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data, nil
}

// FastUnmarshal deserializes data into v with the fast JSON codec.
func FastUnmarshal(data []byte, v interface{}) error {
	if err := fastjson.Unmarshal(data, v); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// hostnameRegexp matches DNS names per RFC 1123: dot separated labels of
// letters, digits and hyphens, not starting or ending with a hyphen.
var hostnameRegexp = regexp.MustCompile(`^([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])(\.([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9\-]{0,61}[a-zA-Z0-9]))*$`)

// IsValidHostname reports whether v is a DNS name or an IPv4 literal.
func IsValidHostname(v string) bool {
	if len(v) == 0 || len(v) > 255 {
		return false
	}
	if ip := net.ParseIP(v); ip != nil {
		return ip.To4() != nil
	}
	// Digits and dots that did not parse as an address (256.0.0.1) are a
	// malformed IPv4 literal, not a DNS name.
	if strings.Trim(v, "0123456789.") == "" {
		return false
	}
	return hostnameRegexp.MatchString(v)
}

// IsValidPort reports whether p is a usable TCP port number.
func IsValidPort(p int) bool {
	return p >= 1 && p <= 65535
}

// emailRegexp is intentionally permissive: one @, a non-empty local part and
// a dotted domain.
var emailRegexp = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// IsValidEmail reports whether v looks like an email address.
func IsValidEmail(v string) bool {
	return len(v) <= 254 && emailRegexp.MatchString(v)
}
