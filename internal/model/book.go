// Package model はドメインモデルを定義する。
package model

import "time"

// Book は蔵書を表す。
// AvailableUnits は貸出可能な冊数で、負になることはない。
// 増減は貸出・返却のトランザクション内でのみ行う。
type Book struct {
	ID             string
	Name           string
	Author         string
	Genre          string
	AvailableUnits int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Snapshot は貸出記録に埋め込むための書籍スナップショットを返す。
func (b *Book) Snapshot() BookSnapshot {
	return BookSnapshot{
		ID:     b.ID,
		Name:   b.Name,
		Author: b.Author,
	}
}

// BookFilter は蔵書一覧の絞り込み条件を表す。
// ゼロ値のフィールドは条件に含めない。
type BookFilter struct {
	Name          string // 部分一致
	Author        string // 完全一致
	Genre         string // 完全一致
	AvailableOnly bool
}
