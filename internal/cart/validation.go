package cart

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/example/vending-commerce/internal/domain/cart"
)

type IssueCode string

const (
	IssueMachineUnavailable IssueCode = "machine_unavailable"
	IssueSlotMismatch       IssueCode = "slot_mismatch"
	IssueInsufficientStock  IssueCode = "insufficient_stock"
	IssuePriceChanged       IssueCode = "price_changed"
)

// LineIssue flags one cart line that no longer matches machine state.
type LineIssue struct {
	ProductID  string    `json:"product_id"`
	MachineID  string    `json:"machine_id"`
	SlotNumber int       `json:"slot_number"`
	Code       IssueCode `json:"code"`
	Message    string    `json:"message"`
}

// ValidationResult reports every flagged line. Valid is true only when
// no line was flagged.
type ValidationResult struct {
	Valid  bool        `json:"is_valid"`
	Issues []LineIssue `json:"issues,omitempty"`
}

func (r *ValidationResult) flag(item cart.Item, code IssueCode, message string) {
	r.Valid = false
	r.Issues = append(r.Issues, LineIssue{
		ProductID:  item.ProductID,
		MachineID:  item.MachineID,
		SlotNumber: item.SlotNumber,
		Code:       code,
		Message:    message,
	})
}

// ValidationError aggregates every offending line into one error, so a
// failed order creation reports the whole picture at once.
type ValidationError struct {
	Issues []LineIssue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = fmt.Sprintf("%s@%s/%d: %s", issue.ProductID, issue.MachineID, issue.SlotNumber, issue.Message)
	}
	return "cart validation failed: " + strings.Join(parts, "; ")
}

// Summary is the checkout view of the cart.
type Summary struct {
	TotalItems  int             `json:"total_items"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	FinalAmount decimal.Decimal `json:"final_amount"`
	Machines    []MachineGroup  `json:"machines,omitempty"`
}

// MachineGroup buckets lines by machine for multi-machine display.
type MachineGroup struct {
	MachineID string          `json:"machine_id"`
	Items     []cart.Item     `json:"items"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}
