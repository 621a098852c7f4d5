package utils

import (
	"regexp"
	"strings"
)

var phonePattern = regexp.MustCompile(`^\+7\d{10}$`)

// ValidPhone reports whether the phone is in the only format the MAX
// platform accepts: +7 followed by exactly 10 digits.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// MaskPhone masks a phone number for logging, keeping the first 2 and
// last 2 characters visible.
func MaskPhone(phone string) string {
	if len(phone) < 4 {
		return "***"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}
