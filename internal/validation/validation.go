package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/kjstillabower/cnweather/internal/models"
)

// DefaultMaxNameLen bounds a single location name in runes.
const DefaultMaxNameLen = 32

// ErrNameEmpty is returned when a required name is empty or whitespace-only after trim.
var ErrNameEmpty = errors.New("location name is required")

// ErrNameTooLong is returned when a name exceeds the maximum length.
var ErrNameTooLong = errors.New("location name too long")

// ErrNameInvalidChars is returned when a name contains disallowed characters.
var ErrNameInvalidChars = errors.New("location name contains invalid characters")

// ValidateName trims the input, enforces maxLen (in runes) and restricts to
// letters (Unicode), digits, space, hyphen and the middle dot used in
// transliterated names. Tier placeholders such as "--市区--" are accepted
// as-is so adapters can pass selection widgets through unchanged.
func ValidateName(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrNameEmpty
	}
	if isPlaceholder(s) {
		return s, nil
	}
	r := []rune(s)
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrNameTooLong
	}
	for _, c := range r {
		if !isAllowedNameRune(c) {
			return "", ErrNameInvalidChars
		}
	}
	return s, nil
}

// ValidateSelection checks each field of sel with ValidateName. Province and
// city are required; an empty district is left empty. Errors name the field.
func ValidateSelection(sel models.LocationSelection, maxLen int) (models.LocationSelection, error) {
	var out models.LocationSelection
	var err error
	if out.Province, err = ValidateName(sel.Province, maxLen); err != nil {
		return models.LocationSelection{}, fmt.Errorf("province: %w", err)
	}
	if out.City, err = ValidateName(sel.City, maxLen); err != nil {
		return models.LocationSelection{}, fmt.Errorf("city: %w", err)
	}
	if strings.TrimSpace(sel.District) != "" {
		if out.District, err = ValidateName(sel.District, maxLen); err != nil {
			return models.LocationSelection{}, fmt.Errorf("district: %w", err)
		}
	}
	return out, nil
}

func isPlaceholder(s string) bool {
	return s == models.UnsetProvince || s == models.UnsetCity || s == models.UnsetDistrict
}

// isAllowedNameRune returns true for letters (Unicode), digits, space, hyphen and middle dot.
func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', '-', '·':
		return true
	}
	return false
}
