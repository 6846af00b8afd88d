package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types, carried in the AMQP Type property.
const (
	EventReportGenerated = "report.generated"
	EventPeriodReset     = "period.reset"
)

// ReportGeneratedMessage is published after a non-empty settlement report.
// Payer is "A", "B" or empty when nobody owes anything.
type ReportGeneratedMessage struct {
	ID          string    `json:"id"`
	PercentageA int       `json:"percentageA"`
	Names       [2]string `json:"names"`
	Payer       string    `json:"payer,omitempty"`
	Amount      int64     `json:"amount"`
	Summary     string    `json:"summary"`
	Lines       [5]string `json:"lines"`
	Timestamp   time.Time `json:"timestamp"`
}

// PeriodResetMessage is published after payments and debts were cleared.
type PeriodResetMessage struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewReportGeneratedMessage(percentageA int, names [2]string, payer string, amount int64, summary string, lines [5]string) *ReportGeneratedMessage {
	return &ReportGeneratedMessage{
		ID:          uuid.NewString(),
		PercentageA: percentageA,
		Names:       names,
		Payer:       payer,
		Amount:      amount,
		Summary:     summary,
		Lines:       lines,
		Timestamp:   time.Now().UTC(),
	}
}

func NewPeriodResetMessage() *PeriodResetMessage {
	return &PeriodResetMessage{ID: uuid.NewString(), Timestamp: time.Now().UTC()}
}

func (m *ReportGeneratedMessage) ToJSON() ([]byte, error) { return json.Marshal(m) }

func (m *PeriodResetMessage) ToJSON() ([]byte, error) { return json.Marshal(m) }

func ReportGeneratedMessageFromJSON(data []byte) (*ReportGeneratedMessage, error) {
	var msg ReportGeneratedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func PeriodResetMessageFromJSON(data []byte) (*PeriodResetMessage, error) {
	var msg PeriodResetMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
