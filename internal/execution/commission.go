package execution

import "github.com/shopspring/decimal"

var (
	perShareFee  = decimal.RequireFromString("0.005")
	minimumFee   = decimal.NewFromInt(1)
	feePrecision = int32(4)
)

// GenericCommission $0.005 за акцию, минимум $1; цена не влияет
func GenericCommission(quantity int, _ float64) float64 {
	if quantity <= 0 {
		return 0
	}
	fee := perShareFee.Mul(decimal.NewFromInt(int64(quantity)))
	if fee.LessThan(minimumFee) {
		fee = minimumFee
	}
	f, _ := fee.Round(feePrecision).Float64()
	return f
}
