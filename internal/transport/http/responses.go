package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/render"

	"keygate/internal/domain"
	"keygate/internal/licensing"
)

// Result is the verdict half of every client response.
type Result struct {
	Valid             bool      `json:"valid"`
	Details           string    `json:"details"`
	Timestamp         time.Time `json:"timestamp"`
	ChallengeResponse string    `json:"challengeResponse,omitempty"`
}

// VerifyResponse is the envelope shared by verification responses and
// download error responses. Data is null on every non-valid outcome.
type VerifyResponse struct {
	Data   *LicenseData `json:"data"`
	Result Result       `json:"result"`

	httpStatus int
}

// Render implements the render.Renderer interface.
func (v *VerifyResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, v.httpStatus)
	return nil
}

// LicenseData is the projected license surface returned to valid callers.
// The plaintext key is never echoed back.
type LicenseData struct {
	ID             string         `json:"id"`
	ExpirationType string         `json:"expirationType"`
	ExpirationDate *time.Time     `json:"expirationDate,omitempty"`
	IPLimit        *int           `json:"ipLimit,omitempty"`
	HWIDLimit      *int           `json:"hwidLimit,omitempty"`
	Customers      []CustomerData `json:"customers,omitempty"`
	Products       []ProductData  `json:"products,omitempty"`
	Release        *ReleaseData   `json:"release,omitempty"`
	LatestVersion  string         `json:"latestVersion,omitempty"`
}

// CustomerData projects a linked customer.
type CustomerData struct {
	ID       string  `json:"id"`
	Email    *string `json:"email,omitempty"`
	FullName *string `json:"fullName,omitempty"`
	Username *string `json:"username,omitempty"`
}

// ProductData projects a linked product.
type ProductData struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	URL  *string `json:"url,omitempty"`
}

// ReleaseData projects the resolved release.
type ReleaseData struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

// renderBadRequest rejects a malformed request. Schema failures wear the
// same envelope as pipeline verdicts so SDK clients parse one shape per
// endpoint, whichever layer rejected them.
func renderBadRequest(w http.ResponseWriter, r *http.Request) {
	_ = render.Render(w, r, newVerifyResponse(licensing.Outcome{Status: licensing.StatusBadRequest}, time.Now().UTC()))
}

// newVerifyResponse projects a terminal outcome into the response envelope.
func newVerifyResponse(outcome licensing.Outcome, now time.Time) *VerifyResponse {
	resp := &VerifyResponse{
		Result: Result{
			Valid:             outcome.Status.Valid(),
			Details:           outcome.Status.Details(),
			Timestamp:         now,
			ChallengeResponse: outcome.ChallengeResponse,
		},
		httpStatus: outcome.Status.HTTPStatus(),
	}
	if outcome.Status.Valid() && outcome.License != nil {
		resp.Data = projectLicense(outcome)
	}
	return resp
}

func projectLicense(outcome licensing.Outcome) *LicenseData {
	license := outcome.License
	data := &LicenseData{
		ID:             license.ID.String(),
		ExpirationType: string(license.ExpirationType),
		ExpirationDate: outcome.ExpirationDate,
		IPLimit:        license.IPLimit,
		HWIDLimit:      license.HWIDLimit,
		LatestVersion:  outcome.LatestVersion,
	}
	for _, c := range license.Customers {
		data.Customers = append(data.Customers, CustomerData{
			ID:       c.ID.String(),
			Email:    c.Email,
			FullName: c.FullName,
			Username: c.Username,
		})
	}
	for _, p := range license.Products {
		data.Products = append(data.Products, ProductData{
			ID:   p.ID.String(),
			Name: p.Name,
			URL:  p.URL,
		})
	}
	if outcome.Release != nil {
		data.Release = &ReleaseData{
			ID:      outcome.Release.ID.String(),
			Version: outcome.Release.Version,
			Status:  string(outcome.Release.Status),
		}
	}
	return data
}

// downloadHeaders writes the diagnostic and content-security headers for a
// granted download stream.
func downloadHeaders(w http.ResponseWriter, fileSize int64, productName string, releaseStatus domain.ReleaseStatus, version, latestVersion, mainClass string) {
	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'")
	h.Set("X-File-Size", strconv.FormatInt(fileSize, 10))
	h.Set("X-Product-Name", productName)
	h.Set("X-Release-Status", string(releaseStatus))
	h.Set("X-Version", version)
	if latestVersion != "" {
		h.Set("X-Latest-Version", latestVersion)
	}
	if mainClass != "" {
		h.Set("X-Main-Class", mainClass)
	}
}
