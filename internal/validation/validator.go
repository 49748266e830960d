package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

var (
	// macPattern matches XX:XX:XX:XX:XX:XX (or dash-separated) MACs
	macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$`)

	// phonePattern matches local (0...) or country-code (+255...) mobile numbers
	phonePattern = regexp.MustCompile(`^(\+?255|0)[67]\d{8}$`)

	// voucherPattern matches 8-12 alphanumeric voucher codes, optional WIFI- prefix
	voucherPattern = regexp.MustCompile(`^(WIFI-)?[A-Za-z0-9]{8,12}$`)
)

// ValidMAC reports whether s is a well-formed MAC address
func ValidMAC(s string) bool {
	return macPattern.MatchString(s)
}

// NormalizeMAC uppercases a MAC and converts dashes to colons
func NormalizeMAC(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, "-", ":"))
}

// ValidPhone reports whether s is a well-formed mobile number
func ValidPhone(s string) bool {
	return phonePattern.MatchString(s)
}

// ValidVoucherCode reports whether s is a well-formed voucher code
func ValidVoucherCode(s string) bool {
	return voucherPattern.MatchString(s)
}

// Validator validates structs
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct using `validate` field tags
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}

	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := fieldType.Tag.Get("validate")

		if tag == "" {
			continue
		}

		if err := v.validateField(field, tag); err != nil {
			return fmt.Errorf("%s: %w", fieldType.Name, err)
		}
	}

	return nil
}

// validateField validates a single field
func (v *Validator) validateField(field reflect.Value, tag string) error {
	rules := strings.Split(tag, ",")

	omitempty := false
	for _, rule := range rules {
		if rule == "omitempty" {
			omitempty = true
		}
	}
	if omitempty && field.IsZero() {
		return nil
	}

	for _, rule := range rules {
		parts := strings.SplitN(rule, "=", 2)
		ruleName := parts[0]

		switch ruleName {
		case "required":
			if field.IsZero() {
				return fmt.Errorf("field is required")
			}

		case "mac":
			if field.Kind() == reflect.String && !ValidMAC(field.String()) {
				return fmt.Errorf("invalid MAC address format")
			}

		case "phone":
			if field.Kind() == reflect.String && !ValidPhone(field.String()) {
				return fmt.Errorf("invalid phone number format")
			}

		case "voucher":
			if field.Kind() == reflect.String && !ValidVoucherCode(field.String()) {
				return fmt.Errorf("invalid voucher code format")
			}

		case "email":
			if field.Kind() == reflect.String {
				if !strings.Contains(field.String(), "@") {
					return fmt.Errorf("invalid email format")
				}
			}

		case "min":
			if len(parts) < 2 {
				continue
			}
			n, _ := strconv.Atoi(parts[1])
			switch field.Kind() {
			case reflect.String:
				if len(field.String()) < n {
					return fmt.Errorf("minimum length is %d", n)
				}
			case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
				if field.Int() < int64(n) {
					return fmt.Errorf("minimum value is %d", n)
				}
			}

		case "max":
			if len(parts) < 2 {
				continue
			}
			n, _ := strconv.Atoi(parts[1])
			switch field.Kind() {
			case reflect.String:
				if len(field.String()) > n {
					return fmt.Errorf("maximum length is %d", n)
				}
			case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
				if field.Int() > int64(n) {
					return fmt.Errorf("maximum value is %d", n)
				}
			}
		}
	}

	return nil
}
