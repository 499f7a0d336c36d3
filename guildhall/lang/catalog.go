// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package lang holds the translation catalog and message formatting.
// The catalog is a JSON object of nested objects, at most five levels
// deep, whose leaves map locale codes to message strings.
package lang

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

const (
	// DefaultLocale is the fallback when a leaf has no entry for the
	// requested locale.
	DefaultLocale = "en-US"

	// DefaultMaxCatalogBytes bounds the catalog file size unless the
	// config overrides it.
	DefaultMaxCatalogBytes = 5 << 20

	maxKeyLen   = 100
	maxKeyDepth = 5
)

var keyRe = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)

// Catalog is the loaded translation tree. It is immutable after
// LoadCatalog and safe for concurrent lookups.
type Catalog struct {
	root map[string]interface{}
	path string
}

// LoadCatalog reads and parses the catalog file. A missing, empty,
// oversized, unparseable, or non-object file is a startup error.
func LoadCatalog(path string, maxBytes int64) (*Catalog, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxCatalogBytes
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("translation catalog %s: %w", path, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("translation catalog %s is empty", path)
	}
	if info.Size() > maxBytes {
		return nil, fmt.Errorf("translation catalog %s exceeds %d bytes (%d)", path, maxBytes, info.Size())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("translation catalog %s: %w", path, err)
	}

	var root map[string]interface{}
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("translation catalog %s: parse: %w", path, err)
	}

	return &Catalog{root: root, path: path}, nil
}

// NewCatalog builds a catalog from an in-memory tree. Tests and embedded
// defaults use it.
func NewCatalog(root map[string]interface{}) *Catalog {
	return &Catalog{root: root}
}

// Path returns the file the catalog was loaded from, if any.
func (c *Catalog) Path() string { return c.path }

// NormalizeLocale maps the bare "en" code onto the canonical "en-US".
func NormalizeLocale(locale string) string {
	if locale == "en" {
		return DefaultLocale
	}
	return locale
}

// Lookup traverses the catalog along the dotted key and returns the
// message for the locale, falling back to en-US. A malformed key, a
// chain deeper than five segments, a missing node, or a structural
// mismatch all report false.
func (c *Catalog) Lookup(key, locale string) (string, bool) {
	if len(key) == 0 || len(key) > maxKeyLen || !keyRe.MatchString(key) {
		return "", false
	}

	parts := strings.Split(key, ".")
	if len(parts) > maxKeyDepth {
		return "", false
	}

	node := interface{}(c.root)
	for _, part := range parts {
		obj, ok := node.(map[string]interface{})
		if !ok {
			return "", false
		}
		node, ok = obj[part]
		if !ok {
			return "", false
		}
	}

	leaf, ok := node.(map[string]interface{})
	if !ok {
		return "", false
	}

	locale = NormalizeLocale(locale)
	v, ok := leaf[locale]
	if !ok {
		v, ok = leaf[DefaultLocale]
		if !ok {
			return "", false
		}
	}
	msg, ok := v.(string)
	return msg, ok
}
