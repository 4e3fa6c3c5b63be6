// Package model はドメインモデルを定義する。
package model

import "time"

// MemberSnapshot は貸出時点の会員情報の値コピー。
// 元の会員レコードが後から更新・削除されても変化しない。
type MemberSnapshot struct {
	ID        string
	FirstName string
	LastName  string
	Phone     string
}

// BookSnapshot は貸出時点の書籍情報の値コピー。
type BookSnapshot struct {
	ID     string
	Name   string
	Author string
}

// Loan は貸出記録を表す。
// ReturnedAt と LateFee は返却時に一度だけ同時に設定される。
type Loan struct {
	ID         string
	Member     MemberSnapshot
	Book       BookSnapshot
	LoanDays   int
	CheckoutAt time.Time
	ReturnedAt *time.Time
	LateFee    *int
}

// IsOpen は未返却の貸出であればtrueを返す。
func (l *Loan) IsOpen() bool {
	return l.ReturnedAt == nil
}

// MarkReturned は返却日時と延滞料を設定する。
// 既に返却済みの場合は何もせずfalseを返す。
func (l *Loan) MarkReturned(at time.Time, fee int) bool {
	if !l.IsOpen() {
		return false
	}
	l.ReturnedAt = &at
	l.LateFee = &fee
	return true
}

// LoanView は貸出記録の参照用投影。
// EstimatedLateFee は未返却の貸出について現時点で返却した場合の延滞料を示す。
// 永続化はされない。
type LoanView struct {
	Loan
	EstimatedLateFee *int
}
