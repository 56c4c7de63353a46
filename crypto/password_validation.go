package crypto

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"unicode"

	"github.com/trustelem/zxcvbn"
)

//go:embed password-requirements.json
var embeddedPasswordRequirements []byte

// PasswordRequirements holds password validation configuration
type PasswordRequirements struct {
	MinAccountPasswordLength int     `json:"minAccountPasswordLength"`
	MinEntropyBits           float64 `json:"minEntropyBits"`
	RequireUppercase         bool    `json:"requireUppercase"`
	RequireLowercase         bool    `json:"requireLowercase"`
	RequireNumber            bool    `json:"requireNumber"`
	RequireSpecial           bool    `json:"requireSpecial"`
}

var (
	passwordRequirements     *PasswordRequirements
	passwordRequirementsOnce sync.Once
	passwordRequirementsErr  error
)

// LoadPasswordRequirements parses the embedded requirements once.
func LoadPasswordRequirements() (*PasswordRequirements, error) {
	passwordRequirementsOnce.Do(func() {
		reqs := &PasswordRequirements{}
		if err := json.Unmarshal(embeddedPasswordRequirements, reqs); err != nil {
			passwordRequirementsErr = fmt.Errorf("failed to parse embedded password requirements: %w", err)
			return
		}
		passwordRequirements = reqs
	})
	return passwordRequirements, passwordRequirementsErr
}

// PasswordValidationResult is advisory strength feedback for a new password.
type PasswordValidationResult struct {
	Entropy          float64  `json:"entropy"`
	StrengthScore    int      `json:"strength_score"`
	MeetsRequirement bool     `json:"meets_requirements"`
	Suggestions      []string `json:"suggestions"`
}

var patternHints = map[string]string{
	"dictionary": "Contains a dictionary word, try something unique",
	"spatial":    "Contains a keyboard pattern, mix it up",
	"repeat":     "Contains a repeated sequence, add variety",
	"sequence":   "Contains a sequential pattern, add variety",
}

// ValidateAccountPassword scores an account password against the embedded
// requirements. The result is advisory; callers decide whether to block.
func ValidateAccountPassword(password string) *PasswordValidationResult {
	reqs, err := LoadPasswordRequirements()
	if err != nil {
		panic(err)
	}
	return validatePassword(password, reqs)
}

func validatePassword(password string, reqs *PasswordRequirements) *PasswordValidationResult {
	result := &PasswordValidationResult{Suggestions: missingClasses(password, reqs)}
	if password == "" {
		return result
	}

	strength := zxcvbn.PasswordStrength(password, nil)
	if strength.Guesses > 0 {
		result.Entropy = math.Log2(strength.Guesses)
	}
	result.StrengthScore = strength.Score
	result.MeetsRequirement = result.Entropy >= reqs.MinEntropyBits

	seen := make(map[string]bool)
	for _, match := range strength.Sequence {
		if hint, ok := patternHints[match.Pattern]; ok && !seen[hint] {
			seen[hint] = true
			result.Suggestions = append(result.Suggestions, hint)
		}
	}
	return result
}

// missingClasses lists the length and character-class requirements the
// password does not meet.
func missingClasses(password string, reqs *PasswordRequirements) []string {
	var upper, lower, number, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			number = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}

	var missing []string
	if n := len([]rune(password)); n < reqs.MinAccountPasswordLength {
		missing = append(missing, fmt.Sprintf("Add %d more characters (currently %d/%d)", reqs.MinAccountPasswordLength-n, n, reqs.MinAccountPasswordLength))
	}
	if reqs.RequireUppercase && !upper {
		missing = append(missing, "Missing: uppercase letter")
	}
	if reqs.RequireLowercase && !lower {
		missing = append(missing, "Missing: lowercase letter")
	}
	if reqs.RequireNumber && !number {
		missing = append(missing, "Missing: number")
	}
	if reqs.RequireSpecial && !special {
		missing = append(missing, "Missing: special character")
	}
	return missing
}
