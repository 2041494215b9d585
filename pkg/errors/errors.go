// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

// Package errors defines Loam's coded error conventions on top of samber/oops.
// Every error crossing a package boundary carries a machine-readable Code;
// the HTTP layer maps codes to response statuses via HTTPStatus.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"
	CodeConfigMissingCredential    Code = "config.credential.not_found"

	CodeStoreBackendUnsupported Code = "store.backend.unsupported"
	CodeStoreAddFailure         Code = "store.add.upstream_failure"
	CodeStoreSearchFailure      Code = "store.search.upstream_failure"
	CodeStoreDeleteFailure      Code = "store.delete.upstream_failure"
	CodeStoreListFailure        Code = "store.list.upstream_failure"
	CodeStoreSetupFailure       Code = "store.setup.failure"
	CodeStoreInvalidInput       Code = "store.invalid_input"
	CodeTrackerPersistFailure   Code = "store.tracker.persist.failure"

	CodeEmbedProviderUnsupported Code = "embed.provider.unsupported"
	CodeEmbedUpstreamFailure     Code = "embed.request.upstream_failure"
	CodeEmbedResponseInvalid     Code = "embed.response.invalid"

	CodeGenerateUpstreamFailure Code = "generate.request.upstream_failure"

	CodeIngestFormatUnsupported Code = "ingest.format.unsupported"
	CodeIngestParseFailure      Code = "ingest.parse.failure"

	CodeLeadsInvalidInput    Code = "leads.invalid_input"
	CodeLeadsStorageFailure  Code = "leads.storage.failure"
	CodeLeadsEntityNotFound  Code = "leads.entity.not_found"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerEntityNotFound  Code = "server.entity.not_found"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerStartFailure    Code = "server.start.failure"

	CodeCLISetupFailure Code = "cli.setup.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldDocumentID(value string) Attr {
	return Field("document_id", value)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func FieldCollection(value string) Attr {
	return Field("collection", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "unsupported"
}

func IsUpstreamFailure(err error) bool {
	return reason(CodeOf(err)) == "upstream_failure"
}

// HTTPStatus maps an error's code family to the response status the API
// layer should emit.
func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
