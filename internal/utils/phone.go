package utils

import (
	"fmt"
	"strings"

	"github.com/ttacon/libphonenumber"
)

// NormalizePhone parses a customer phone number, using region when the
// number has no international prefix, and returns it in E.164 form.
func NormalizePhone(phone, region string) (string, error) {
	p, err := libphonenumber.Parse(strings.TrimSpace(phone), strings.ToUpper(region))
	if err != nil {
		return "", err
	}

	if !libphonenumber.IsValidNumber(p) {
		return "", fmt.Errorf("phone number is not valid")
	}

	return libphonenumber.Format(p, libphonenumber.E164), nil
}
