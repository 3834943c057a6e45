package utils

import (
	"regexp"

	"github.com/shopspring/decimal"
)

func IsValidEmail(email string) bool {
	pattern := `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	regex := regexp.MustCompile(pattern)
	return regex.MatchString(email)
}

// RoundAmount rounds money values to 2 decimal places, half up.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
