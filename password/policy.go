package password

import "unicode"

// Rule names a single password policy requirement.
type Rule string

const (
	// RuleMinLength is violated when the password is shorter than Policy.MinLength.
	RuleMinLength Rule = "min_length"
	// RuleMaxLength is violated when the password exceeds MaxBytes; bcrypt ignores anything past it.
	RuleMaxLength Rule = "max_length"
	// RuleUpper requires at least one upper-case letter.
	RuleUpper Rule = "upper"
	// RuleLower requires at least one lower-case letter.
	RuleLower Rule = "lower"
	// RuleDigit requires at least one decimal digit.
	RuleDigit Rule = "digit"
	// RuleSpecial requires at least one character that is neither a letter nor a digit.
	RuleSpecial Rule = "special"
)

// MaxBytes is the longest password accepted by any policy.
const MaxBytes = 72

// Policy is the configurable password strength rule set.
type Policy struct {
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// DefaultPolicy requires eight characters with upper, lower and digit.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:    8,
		RequireUpper: true,
		RequireLower: true,
		RequireDigit: true,
	}
}

// Check returns the rules pw violates, in declaration order. A nil result
// means the password passes. Length is counted in characters, the upper
// bound in bytes.
func (p Policy) Check(pw string) []Rule {
	var (
		upper, lower, digit, special bool
		length                       int
	)
	for _, r := range pw {
		length++
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r) && !unicode.IsSpace(r):
			special = true
		}
	}

	var violations []Rule
	if length < p.MinLength {
		violations = append(violations, RuleMinLength)
	}
	if len(pw) > MaxBytes {
		violations = append(violations, RuleMaxLength)
	}
	if p.RequireUpper && !upper {
		violations = append(violations, RuleUpper)
	}
	if p.RequireLower && !lower {
		violations = append(violations, RuleLower)
	}
	if p.RequireDigit && !digit {
		violations = append(violations, RuleDigit)
	}
	if p.RequireSpecial && !special {
		violations = append(violations, RuleSpecial)
	}
	return violations
}
