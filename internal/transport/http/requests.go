// Package http contains the client-facing HTTP handlers for verification
// and secure download.
package http

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// VerifyRequest is the verification payload. Everything except the license
// key is optional; strictness is a tenant policy, not a schema concern.
type VerifyRequest struct {
	LicenseKey         string `json:"licenseKey" validate:"required"`
	CustomerID         string `json:"customerId,omitempty" validate:"omitempty,uuid4"`
	ProductID          string `json:"productId,omitempty" validate:"omitempty,uuid4"`
	Challenge          string `json:"challenge,omitempty" validate:"omitempty,max=1024"`
	Version            string `json:"version,omitempty" validate:"omitempty,max=255"`
	Branch             string `json:"branch,omitempty" validate:"omitempty,max=255"`
	HardwareIdentifier string `json:"hardwareIdentifier,omitempty" validate:"omitempty,min=10,max=1024"`
}

// Bind implements the render.Binder interface.
func (v *VerifyRequest) Bind(r *http.Request) error {
	v.LicenseKey = strings.TrimSpace(strings.ToUpper(v.LicenseKey))
	return validate.Struct(v)
}

// DownloadRequest is the classloader payload. The session key blob and
// hardware identifier are mandatory here, unlike verification.
type DownloadRequest struct {
	LicenseKey         string `json:"licenseKey" validate:"required"`
	ProductID          string `json:"productId" validate:"required,uuid4"`
	SessionKey         string `json:"sessionKey" validate:"required,base64"`
	HardwareIdentifier string `json:"hardwareIdentifier" validate:"required,min=10,max=1024"`
	Version            string `json:"version,omitempty" validate:"omitempty,max=255"`
	Branch             string `json:"branch,omitempty" validate:"omitempty,max=255"`
	CustomerID         string `json:"customerId,omitempty" validate:"omitempty,uuid4"`
}

// Bind implements the render.Binder interface.
func (d *DownloadRequest) Bind(r *http.Request) error {
	d.LicenseKey = strings.TrimSpace(strings.ToUpper(d.LicenseKey))
	return validate.Struct(d)
}

// parseOptionalUUID turns an optional request field into a *uuid.UUID.
func parseOptionalUUID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, errors.New("invalid uuid")
	}
	return &id, nil
}

// clientIP strips the port from RemoteAddr, which chi's RealIP middleware
// has already rewritten from proxy headers where present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
