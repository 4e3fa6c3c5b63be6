// Package model はドメインモデルを定義する。
package model

import "time"

// Member は図書館の会員を表す。
// SSNは会員ごとに一意。
type Member struct {
	ID        string
	SSN       string
	FirstName string
	LastName  string
	Address   string
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot は貸出記録に埋め込むための会員スナップショットを返す。
func (m *Member) Snapshot() MemberSnapshot {
	return MemberSnapshot{
		ID:        m.ID,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Phone:     m.Phone,
	}
}
