package customizations

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/apperrors"
)

const maxDescriptionLength = 200

var accentColorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// OptionalString distinguishes an absent field from one explicitly set to null or a value.
type OptionalString struct {
	Present bool
	Value   *string
}

// Set returns a present OptionalString holding value.
func Set(value string) OptionalString {
	return OptionalString{Present: true, Value: &value}
}

// Clear returns a present OptionalString that removes the field.
func Clear() OptionalString {
	return OptionalString{Present: true}
}

// UnmarshalJSON is only invoked for keys present in the payload, which is what marks the field present.
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Present = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	o.Value = &value
	return nil
}

// Patch lists the customization fields a caller wants to change.
type Patch struct {
	ProfileImageKey OptionalString `json:"profileImageKey"`
	Description     OptionalString `json:"description"`
	AccentColor     OptionalString `json:"accentColor"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return !p.ProfileImageKey.Present && !p.Description.Present && !p.AccentColor.Present
}

func (p Patch) validate(operation, ownerID string) error {
	if key := presentValue(p.ProfileImageKey); key != "" {
		if !strings.HasPrefix(key, ownerKeyPrefix(ownerID)) || strings.Contains(key, "..") {
			return apperrors.Validation(operation, "profileImageKey", "image key was not issued for this owner")
		}
	}
	if description := presentValue(p.Description); utf8.RuneCountInString(description) > maxDescriptionLength {
		return apperrors.Validation(operation, "description", "description must be at most 200 characters")
	}
	if color := presentValue(p.AccentColor); color != "" && !accentColorPattern.MatchString(color) {
		return apperrors.Validation(operation, "accentColor", "accent color must be a hex color such as #6366f1")
	}
	return nil
}

func presentValue(field OptionalString) string {
	if !field.Present || field.Value == nil {
		return ""
	}
	return strings.TrimSpace(*field.Value)
}

// merge applies the present fields of patch on top of current. Empty strings clear a field.
func merge(current Customization, patch Patch) Customization {
	merged := current
	if patch.ProfileImageKey.Present {
		merged.ImageKey = trimmedOrNil(patch.ProfileImageKey.Value)
	}
	if patch.Description.Present {
		merged.Description = trimmedOrNil(patch.Description.Value)
	}
	if patch.AccentColor.Present {
		merged.AccentColor = trimmedOrNil(patch.AccentColor.Value)
	}
	return merged
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func ownerKeyPrefix(ownerID string) string {
	return "profiles/" + ownerID + "/"
}
