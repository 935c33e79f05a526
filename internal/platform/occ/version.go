// Package occ implements the optimistic-concurrency protocol used by every
// mutation path in the compliance service. Records carry an opaque version
// token; writes supply the version they read and fail with a structured
// conflict error when the stored version has moved on. The guard never
// retries and never merges.
package occ

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the opaque version token carried by every mutable record.
type Version int64

// EntityKind discriminates the mutable record types guarded by the protocol.
type EntityKind string

const (
	EntityLicence          EntityKind = "Licence"
	EntityCustomer         EntityKind = "Customer"
	EntityTransaction      EntityKind = "Transaction"
	EntityReclassification EntityKind = "Reclassification"
	EntityCustomerImpact   EntityKind = "CustomerImpact"
	EntitySubscription     EntityKind = "Subscription"
)

// EntityRef is a tagged reference to a guarded record.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

func (r EntityRef) String() string {
	return string(r.Kind) + "/" + r.ID
}

// FormatETag renders a version token as a weak ETag, e.g. W/"3".
func FormatETag(v Version) string {
	return fmt.Sprintf(`W/"%d"`, v)
}

// ParseETag extracts the version token from an ETag value like W/"3" or "3".
func ParseETag(etag string) (Version, error) {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)

	v, err := strconv.ParseInt(etag, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ETag must contain a numeric version: %s", etag)
	}
	return Version(v), nil
}
