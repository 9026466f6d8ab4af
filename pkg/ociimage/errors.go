package ociimage

import "strings"

// DistributionErrorCode enumerates the OCI Distribution Specification's
// error codes, matching the names docker/distribution's errcode package
// uses on the wire (spec §4.3) — the wire strings, not that package's Go
// types, are what this tool must decode, so the enum is hand-rolled here.
type DistributionErrorCode string

const (
	CodeUnsupportedAPI     DistributionErrorCode = "UNSUPPORTED_API"
	CodeBlobUnknown        DistributionErrorCode = "BLOB_UNKNOWN"
	CodeBlobUploadInvalid  DistributionErrorCode = "BLOB_UPLOAD_INVALID"
	CodeBlobUploadUnknown  DistributionErrorCode = "BLOB_UPLOAD_UNKNOWN"
	CodeDigestInvalid      DistributionErrorCode = "DIGEST_INVALID"
	CodeManifestBlobUnknown DistributionErrorCode = "MANIFEST_BLOB_UNKNOWN"
	CodeManifestInvalid    DistributionErrorCode = "MANIFEST_INVALID"
	CodeManifestUnknown    DistributionErrorCode = "MANIFEST_UNKNOWN"
	CodeNameInvalid        DistributionErrorCode = "NAME_INVALID"
	CodeNameUnknown        DistributionErrorCode = "NAME_UNKNOWN"
	CodeSizeInvalid        DistributionErrorCode = "SIZE_INVALID"
	CodeUnauthorized       DistributionErrorCode = "UNAUTHORIZED"
	CodeDenied             DistributionErrorCode = "DENIED"
	CodeUnsupported        DistributionErrorCode = "UNSUPPORTED"
	CodeTooManyRequests    DistributionErrorCode = "TOOMANYREQUESTS"
)

// DistributionError is one entry of a DistributionErrors response body.
type DistributionError struct {
	Code    DistributionErrorCode `json:"code"`
	Message string                `json:"message"`
	Detail  any                   `json:"detail,omitempty"`
}

// DistributionErrors is the `{"errors": [...]}` envelope a conformant
// registry returns on a decodable-error status code.
type DistributionErrors struct {
	Errors []DistributionError `json:"errors"`
}

func (e *DistributionErrors) Error() string {
	if len(e.Errors) == 0 {
		return "distribution: empty error response"
	}
	parts := make([]string, len(e.Errors))
	for i, d := range e.Errors {
		parts[i] = string(d.Code) + ": " + d.Message
	}
	return "distribution: " + strings.Join(parts, "; ")
}
