// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upstream

import (
	"errors"
	"net/url"
	"strings"
)

// ErrEmptyHost is returned when a profile has no API host.
var ErrEmptyHost = errors.New("api host is empty")

// BaseURL normalizes a configured host into the API root. Surrounding
// whitespace and trailing slashes are removed, https:// is assumed when no
// scheme is given, and /v1 is appended unless already present.
func BaseURL(host string) (string, error) {
	h := strings.TrimRight(strings.TrimSpace(host), "/")
	if h == "" {
		return "", ErrEmptyHost
	}

	if !strings.HasPrefix(h, "http://") && !strings.HasPrefix(h, "https://") {
		h = "https://" + h
	}
	if !strings.HasSuffix(h, "/v1") {
		h += "/v1"
	}

	u, err := url.Parse(h)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", errors.New("api host has no hostname: " + host)
	}
	return h, nil
}

// CompletionURL returns the chat-completions endpoint for host.
func CompletionURL(host string) (string, error) {
	base, err := BaseURL(host)
	if err != nil {
		return "", err
	}
	return base + "/chat/completions", nil
}

// ModelsURL returns the model-listing endpoint for host.
func ModelsURL(host string) (string, error) {
	base, err := BaseURL(host)
	if err != nil {
		return "", err
	}
	return base + "/models", nil
}
