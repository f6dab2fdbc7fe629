/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Users:     UserDTO, CreateUserRequest
  Parts:     PartDTO, ImportPartsRequest, ImportResultDTO, EntryDTO
  Bonus:     BucketDTO, BonusReportResponse, TrendDTO, DashboardDTO
  Payments:  UpdatePaymentRequest, PaymentResultDTO
  Admin:     SyncRunDTO, VerificationDTO, StatsDTO
  Scenarios: ScenarioDTO, LoadScenarioRequest

MONEY:
  Amounts are sent both as "$X.XX" strings and as numbers so clients can
  display without reformatting and chart without parsing.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/bonus-engine/bonus"
	"github.com/warp/bonus-engine/generic"
	"github.com/warp/bonus-engine/parts"
)

// =============================================================================
// USERS
// =============================================================================

type UserDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

type CreateUserRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func toUserDTO(u generic.UserProfile) UserDTO {
	return UserDTO{
		ID:        string(u.ID),
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		CreatedAt: formatTimestamp(u.CreatedAt),
	}
}

// =============================================================================
// PARTS & ENTRIES
// =============================================================================

type PartDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SerialNumber string `json:"serial_number"`
	Status       bool   `json:"status"`
	CreatedAt    string `json:"created_at"`
}

func toPartDTO(p generic.Part) PartDTO {
	return PartDTO{
		ID:           string(p.ID),
		Name:         p.Name,
		SerialNumber: p.SerialNumber,
		Status:       p.Status,
		CreatedAt:    formatTimestamp(p.CreatedAt),
	}
}

type ImportPartsRequest struct {
	Parts []struct {
		Name         string `json:"name"`
		SerialNumber string `json:"serial_number"`
	} `json:"parts"`
}

type ImportResultDTO struct {
	Added          int         `json:"added"`
	Skipped        int         `json:"skipped"`
	SkippedSerials []string    `json:"skipped_serials"`
	Sync           *SyncRunDTO `json:"sync,omitempty"`
}

type SubmitEntryRequest struct {
	SerialNumber string `json:"serial_number"`
}

type EntryDTO struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	PartID      string  `json:"part_id"`
	EnteredAt   string  `json:"entered_at"`
	Quarter     string  `json:"quarter"`
	Paid        bool    `json:"paid"`
	PaymentDate *string `json:"payment_date,omitempty"`
}

func toEntryDTO(e generic.PartEntryEvent, c bonus.Classifier) EntryDTO {
	dto := EntryDTO{
		ID:        string(e.ID),
		UserID:    string(e.UserID),
		PartID:    string(e.PartID),
		EnteredAt: formatTimestamp(e.EnteredAt),
		Paid:      e.Paid,
	}
	if label, err := c.Label(e.EnteredAt); err == nil {
		dto.Quarter = label
	}
	if e.PaymentDate != nil {
		s := formatTimestamp(*e.PaymentDate)
		dto.PaymentDate = &s
	}
	return dto
}

type RemainingDTO struct {
	Remaining int `json:"remaining"`
}

// =============================================================================
// BONUS REPORTS
// =============================================================================

type BucketDTO struct {
	UserID        string  `json:"user_id"`
	UserName      string  `json:"user_name"`
	Email         string  `json:"email"`
	Quarter       int     `json:"quarter"`
	Year          int     `json:"year"`
	QuarterLabel  string  `json:"quarter_label"`
	PaymentStatus string  `json:"payment_status"`
	PartCount     int     `json:"part_count"`
	BonusAmount   string  `json:"bonus_amount"`
	BonusValue    float64 `json:"bonus_value"`
	PaymentDate   *string `json:"payment_date,omitempty"`
	NewUnpaid     bool    `json:"new_unpaid"`
}

func toBucketDTO(b bonus.QuarterBucket, newUnpaid bool) BucketDTO {
	dto := BucketDTO{
		UserID:        string(b.UserID),
		UserName:      b.UserName,
		Email:         b.Email,
		Quarter:       b.Quarter.Number,
		Year:          b.Quarter.Year,
		QuarterLabel:  b.Label,
		PaymentStatus: string(b.Status),
		PartCount:     b.PartCount,
		BonusAmount:   b.BonusAmount.Currency(),
		BonusValue:    b.BonusAmount.Float64(),
		NewUnpaid:     newUnpaid,
	}
	if b.PaymentDate != nil {
		s := formatTimestamp(*b.PaymentDate)
		dto.PaymentDate = &s
	}
	return dto
}

type BonusReportResponse struct {
	Buckets   []BucketDTO  `json:"buckets"`
	Totals    bonus.Totals `json:"totals"`
	Quarters  []string     `json:"available_quarters"`
	Anomalies []string     `json:"anomalies,omitempty"`
	Error     string       `json:"error,omitempty"`
}

func emptyReport() BonusReportResponse {
	return BonusReportResponse{
		Buckets:  []BucketDTO{},
		Totals:   bonus.ComputeTotals(nil),
		Quarters: []string{},
	}
}

type TrendDTO struct {
	Quarter int    `json:"quarter"`
	Year    int    `json:"year"`
	Label   string `json:"label"`
	Parts   int    `json:"parts"`
	Bonus   string `json:"bonus"`
	Paid    string `json:"paid"`
	Pending string `json:"pending"`
	Users   int    `json:"users"`
}

func toTrendDTO(t bonus.Trend) TrendDTO {
	return TrendDTO{
		Quarter: t.Quarter.Number,
		Year:    t.Quarter.Year,
		Label:   t.Label,
		Parts:   t.Parts,
		Bonus:   t.Bonus.Currency(),
		Paid:    t.Paid.Currency(),
		Pending: t.Pending.Currency(),
		Users:   t.Users,
	}
}

type DashboardQuarterDTO struct {
	Label       string `json:"label"`
	Quarter     int    `json:"quarter"`
	Year        int    `json:"year"`
	Status      string `json:"status"`
	Parts       int    `json:"parts"`
	Bonus       string `json:"bonus"`
	PaymentDate string `json:"payment_date,omitempty"`
	NewUnpaid   bool   `json:"new_unpaid"`
}

type DashboardDTO struct {
	UserID      string                `json:"user_id"`
	UserName    string                `json:"user_name"`
	Email       string                `json:"email"`
	Locale      string                `json:"locale"`
	Entries     int                   `json:"entries"`
	TotalBonus  string                `json:"total_bonus"`
	PaidBonus   string                `json:"paid_bonus"`
	Pending     string                `json:"pending_bonus"`
	Quarters    []DashboardQuarterDTO `json:"quarters"`
	GeneratedAt string                `json:"generated_at"`
}

func toDashboardDTO(d bonus.Dashboard) DashboardDTO {
	dto := DashboardDTO{
		UserID:      string(d.UserID),
		UserName:    d.UserName,
		Email:       d.Email,
		Locale:      d.Locale,
		Entries:     d.Summary.Entries,
		TotalBonus:  d.Summary.Total.Currency(),
		PaidBonus:   d.Summary.Paid.Currency(),
		Pending:     d.Summary.Pending.Currency(),
		Quarters:    make([]DashboardQuarterDTO, 0, len(d.Quarters)),
		GeneratedAt: formatTimestamp(d.GeneratedAt),
	}
	for _, q := range d.Quarters {
		dto.Quarters = append(dto.Quarters, DashboardQuarterDTO{
			Label:       q.Label,
			Quarter:     q.Quarter.Number,
			Year:        q.Quarter.Year,
			Status:      string(q.Status),
			Parts:       q.Parts,
			Bonus:       q.Bonus,
			PaymentDate: q.PaymentDate,
			NewUnpaid:   q.NewUnpaid,
		})
	}
	return dto
}

// =============================================================================
// PAYMENTS
// =============================================================================

type UpdatePaymentRequest struct {
	UserID      string `json:"user_id"`
	Quarter     int    `json:"quarter"`
	Year        int    `json:"year"`
	Status      string `json:"status"`       // "paid" or "pending"
	PaymentDate string `json:"payment_date"` // YYYY-MM-DD or RFC3339, required when paid
}

type PaymentResultDTO struct {
	UserID        string  `json:"user_id"`
	QuarterLabel  string  `json:"quarter_label"`
	PaymentStatus string  `json:"payment_status"`
	EventsUpdated int     `json:"events_updated"`
	PaymentDate   *string `json:"payment_date,omitempty"`
}

func toPaymentResultDTO(r bonus.PaymentResult) PaymentResultDTO {
	dto := PaymentResultDTO{
		UserID:        string(r.UserID),
		QuarterLabel:  r.Quarter.Label(),
		PaymentStatus: string(r.Status),
		EventsUpdated: len(r.EventIDs),
	}
	if r.PaymentDate != nil {
		s := formatTimestamp(*r.PaymentDate)
		dto.PaymentDate = &s
	}
	return dto
}

// =============================================================================
// ADMIN
// =============================================================================

type SyncRunDTO struct {
	ID            string  `json:"id"`
	Trigger       string  `json:"trigger"`
	Status        string  `json:"status"`
	UpdatedToTrue int     `json:"updated_to_true"`
	ResetToFalse  int     `json:"reset_to_false"`
	Error         string  `json:"error,omitempty"`
	StartedAt     string  `json:"started_at"`
	CompletedAt   *string `json:"completed_at,omitempty"`
}

func toSyncRunDTO(r generic.SyncRun) SyncRunDTO {
	dto := SyncRunDTO{
		ID:            r.ID,
		Trigger:       string(r.Trigger),
		Status:        string(r.Status),
		UpdatedToTrue: r.UpdatedToTrue,
		ResetToFalse:  r.ResetToFalse,
		Error:         r.Error,
		StartedAt:     formatTimestamp(r.StartedAt),
	}
	if r.CompletedAt != nil {
		s := formatTimestamp(*r.CompletedAt)
		dto.CompletedAt = &s
	}
	return dto
}

type VerificationDTO struct {
	Consistent  bool     `json:"consistent"`
	MissingTrue []string `json:"missing_true"`
	ExtraTrue   []string `json:"extra_true"`
	Dangling    []string `json:"dangling"`
}

func toVerificationDTO(v bonus.Verification) VerificationDTO {
	return VerificationDTO{
		Consistent:  v.Consistent,
		MissingTrue: partIDs(v.MissingTrue),
		ExtraTrue:   partIDs(v.ExtraTrue),
		Dangling:    partIDs(v.Dangling),
	}
}

func partIDs(ids []generic.PartID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}

type StatsDTO struct {
	TotalParts   int    `json:"total_parts"`
	EnteredToday int    `json:"parts_entered_today"`
	TotalUsers   int    `json:"total_users"`
	TotalBonus   string `json:"total_bonuses"`
}

func toStatsDTO(s parts.Stats) StatsDTO {
	return StatsDTO{
		TotalParts:   s.TotalParts,
		EnteredToday: s.EnteredToday,
		TotalUsers:   s.TotalUsers,
		TotalBonus:   s.TotalBonus.Currency(),
	}
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
