package util

import "errors"

var (
	ErrConfiguration = errors.New("configuration error")
	ErrValidation    = errors.New("validation error")
	ErrIngestion     = errors.New("ingestion error")
	ErrNotFound      = errors.New("not found")

	ErrNoExtractableText = errors.New("no extractable text found in document")
)
