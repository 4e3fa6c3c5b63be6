package loan

import "time"

// DefaultLateFeePerDay は1日あたりの延滞料のデフォルト値。
const DefaultLateFeePerDay = 3

// FeePolicy は延滞料の計算規則。
type FeePolicy struct {
	RatePerDay int
}

// DefaultFeePolicy はデフォルトの延滞料規則を返す。
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{RatePerDay: DefaultLateFeePerDay}
}

// ElapsedDays は貸出日時からatまでの経過日数を24時間単位の切り捨てで返す。
func ElapsedDays(checkoutAt, at time.Time) int {
	elapsed := at.Sub(checkoutAt)
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / (24 * time.Hour))
}

// LateFee はatの時点で返却した場合の延滞料を返す。
// 経過日数が貸出日数を超えた日数分だけ課金する。
func (p FeePolicy) LateFee(checkoutAt, at time.Time, loanDays int) int {
	days := ElapsedDays(checkoutAt, at)
	if days <= loanDays {
		return 0
	}
	return (days - loanDays) * p.RatePerDay
}
