/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger and roster models from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Sessions:   LoginRequest, SessionDTO
  Users:      UserDTO, PendingCountDTO
  Members:    MemberDTO, StatementDTO, YearLineDTO, PaymentDTO
  Payments:   RecordPaymentRequest, YearRecordDTO
  Reference:  RankDTO
  Scenarios:  ScenarioDTO, LoadScenarioRequest

MONEY:
  Amounts are decimal strings ("68", "2.5") so clients never round.
  Requests accept either a JSON number or a string.

VALIDATION:
  Field rules live on the service inputs (roster.Registration,
  ledger.NewMember) and are checked there, not here.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/messmate/subs-engine/access"
	"github.com/messmate/subs-engine/ledger"
	"github.com/messmate/subs-engine/subs"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SESSIONS & USERS
// =============================================================================

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionDTO is returned by login. Token goes in the Authorization header.
type SessionDTO struct {
	Token     string  `json:"token"`
	ExpiresAt string  `json:"expires_at"`
	User      UserDTO `json:"user"`
}

type UserDTO struct {
	UID       string `json:"uid"`
	ArmyNo    string `json:"armyNo"`
	FirstName string `json:"firstName"`
	Surname   string `json:"surname"`
	Rank      string `json:"rank"`
	Unit      string `json:"unit"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at,omitempty"`
}

type PendingCountDTO struct {
	Count int `json:"count"`
}

func toUserDTO(id *access.Identity) UserDTO {
	dto := UserDTO{
		UID:       id.UID,
		ArmyNo:    id.MemberID,
		FirstName: id.FirstName,
		Surname:   id.Surname,
		Rank:      id.Rank,
		Unit:      id.Unit,
		Email:     id.Email,
		Role:      id.Role.String(),
	}
	if !id.CreatedAt.IsZero() {
		dto.CreatedAt = id.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// MEMBERS
// =============================================================================

// MemberDTO is a member row in the roster. TotalOwed and Problem are only
// set in roster listings.
type MemberDTO struct {
	ArmyNo     string           `json:"armyNo"`
	FirstName  string           `json:"firstName"`
	Surname    string           `json:"surname"`
	Name       string           `json:"name"`
	Rank       string           `json:"rank"`
	Unit       string           `json:"unit"`
	Email      string           `json:"email,omitempty"`
	Category   string           `json:"category"`
	Mess       string           `json:"mess,omitempty"`
	JoinedDate *subs.Date       `json:"joinedDate,omitempty"`
	TotalOwed  *decimal.Decimal `json:"totalOwed,omitempty"`
	Problem    string           `json:"problem,omitempty"`
}

func toMemberDTO(m *subs.Member) MemberDTO {
	category := subs.Classify(m.Rank)
	return MemberDTO{
		ArmyNo:     string(m.ID),
		FirstName:  m.FirstName,
		Surname:    m.Surname,
		Name:       m.FullName(),
		Rank:       m.Rank,
		Unit:       m.Unit,
		Email:      m.Email,
		Category:   string(category),
		Mess:       string(category.Mess()),
		JoinedDate: m.JoinedDate,
	}
}

func toRosterDTOs(entries []ledger.RosterEntry) []MemberDTO {
	dtos := make([]MemberDTO, len(entries))
	for i := range entries {
		e := &entries[i]
		dto := toMemberDTO(&e.Member)
		if e.Problem != "" {
			dto.Problem = e.Problem
		} else {
			total := e.TotalOwed
			dto.TotalOwed = &total
		}
		dtos[i] = dto
	}
	return dtos
}

type PaymentDTO struct {
	Index  int             `json:"index"`
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
	Date   subs.Date       `json:"date"`
}

func toPaymentDTOs(payments []subs.Payment) []PaymentDTO {
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = PaymentDTO{Index: i, Amount: p.Amount, Method: string(p.Method), Date: p.Date}
	}
	return dtos
}

// YearLineDTO is one year of a statement.
type YearLineDTO struct {
	Year     int             `json:"year"`
	Status   string          `json:"status"`
	Due      decimal.Decimal `json:"due"`
	Paid     decimal.Decimal `json:"paid"`
	Owed     decimal.Decimal `json:"owed"`
	Overseas bool            `json:"overseas"`
	Exempt   bool            `json:"exempt"`
	Promoted bool            `json:"promoted"`
	Payments []PaymentDTO    `json:"payments"`
}

type StatementDTO struct {
	Member       MemberDTO       `json:"member"`
	StartYear    int             `json:"startYear"`
	EndYear      int             `json:"endYear"`
	TotalOwed    decimal.Decimal `json:"totalOwed"`
	Years        []YearLineDTO   `json:"years"`
	PayableYears []int           `json:"payableYears"`
}

func toStatementDTO(ms *ledger.MemberStatement) StatementDTO {
	years := make([]YearLineDTO, len(ms.Statement.Years))
	for i, y := range ms.Statement.Years {
		years[i] = YearLineDTO{
			Year:     y.Year,
			Status:   string(y.Status),
			Due:      y.Due,
			Paid:     y.Paid,
			Owed:     y.Owed,
			Overseas: y.Overseas,
			Exempt:   y.Exempt,
			Promoted: y.Promoted,
			Payments: toPaymentDTOs(y.Payments),
		}
	}
	payable := ms.PayableYears
	if payable == nil {
		payable = []int{}
	}
	return StatementDTO{
		Member:       toMemberDTO(&ms.Member),
		StartYear:    ms.Statement.StartYear,
		EndYear:      ms.Statement.EndYear,
		TotalOwed:    ms.Statement.TotalOwed,
		Years:        years,
		PayableYears: payable,
	}
}

// =============================================================================
// PAYMENTS
// =============================================================================

// RecordPaymentRequest is the payment form. An empty method means Cash.
type RecordPaymentRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Method   string          `json:"method"`
	Overseas bool            `json:"overseas"`
}

// YearRecordDTO is a year record after a mutation.
type YearRecordDTO struct {
	ArmyNo   string       `json:"armyNo"`
	Year     int          `json:"year"`
	Status   string       `json:"status"`
	Overseas bool         `json:"overseas"`
	Paid     string       `json:"paid"`
	Payments []PaymentDTO `json:"payments"`
}

func toYearRecordDTO(id subs.MemberID, year int, rec *subs.YearRecord) YearRecordDTO {
	dto := YearRecordDTO{ArmyNo: string(id), Year: year, Status: string(subs.StatusDue), Paid: "0", Payments: []PaymentDTO{}}
	if rec == nil {
		return dto
	}
	dto.Status = string(rec.Status)
	if dto.Status == "" {
		dto.Status = string(subs.StatusDue)
	}
	dto.Overseas = rec.IsOverseas()
	dto.Paid = rec.Paid().String()
	dto.Payments = toPaymentDTOs(rec.Payments)
	return dto
}

// =============================================================================
// REFERENCE DATA & SCENARIOS
// =============================================================================

type RankDTO struct {
	Rank     string `json:"rank"`
	Category string `json:"category"`
	Mess     string `json:"mess"`
}

// ScenarioDTO describes a demo scenario.
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
