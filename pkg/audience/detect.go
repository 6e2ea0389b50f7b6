package audience

import (
	"net/mail"
	"regexp"
	"strings"
)

// Detector recognizes address shapes and normalizes raw values.
type Detector struct {
	emailRegex    *regexp.Regexp
	phoneRegex    *regexp.Regexp
	nationalRegex *regexp.Regexp
	urlRegex      *regexp.Regexp
	typedRegex    *regexp.Regexp
}

// NewDetector creates a detector with compiled patterns.
func NewDetector() *Detector {
	return &Detector{
		emailRegex:    regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`),
		phoneRegex:    regexp.MustCompile(`^\+[1-9]\d{1,14}$`),
		nationalRegex: regexp.MustCompile(`^[0-9]{10,15}$`),
		urlRegex:      regexp.MustCompile(`^https?://[^\s/$.?#].[^\s]*$`),
		typedRegex:    regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9_-]*):(.+)$`),
	}
}

var defaultDetector = NewDetector()

// IsEmail reports whether value looks like an email address.
func (d *Detector) IsEmail(value string) bool {
	return d.emailRegex.MatchString(strings.TrimSpace(value))
}

// IsPhoneNumber reports whether value is an E.164 or national phone number.
func (d *Detector) IsPhoneNumber(value string) bool {
	clean := stripPhoneSeparators(value)
	return d.phoneRegex.MatchString(clean) || d.nationalRegex.MatchString(clean)
}

// DetectType guesses the address type of value; "" when unknown.
func (d *Detector) DetectType(value string) string {
	v := strings.TrimSpace(value)
	switch {
	case d.IsEmail(v):
		return TypeEmail
	case d.IsPhoneNumber(v):
		return TypePhoneNumber
	case d.urlRegex.MatchString(v):
		return TypeWebhook
	default:
		return ""
	}
}

// Parse normalizes a raw address string. "type:value" forms set the type
// explicitly, "Name <a@b.c>" forms keep the display name, phone separators
// are removed and the detected type is set.
func (d *Detector) Parse(raw string) Address {
	raw = strings.TrimSpace(raw)
	if m := d.typedRegex.FindStringSubmatch(raw); m != nil && !strings.HasPrefix(m[2], "//") {
		t, value := strings.ToLower(m[1]), strings.TrimSpace(m[2])
		if t == TypePhoneNumber {
			value = stripPhoneSeparators(value)
		}
		return Address{Value: value, Type: t}
	}
	if strings.Contains(raw, "<") {
		if parsed, err := mail.ParseAddress(raw); err == nil {
			return Address{Value: parsed.Address, Display: parsed.Name, Type: TypeEmail}
		}
	}
	t := d.DetectType(raw)
	if t == TypePhoneNumber {
		raw = stripPhoneSeparators(raw)
	}
	return Address{Value: raw, Type: t}
}

// Parse normalizes raw with the default detector.
func Parse(raw string) Address {
	return defaultDetector.Parse(raw)
}

// ParseAll normalizes every raw value, skipping blanks.
func ParseAll(raw ...string) []Address {
	out := make([]Address, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		out = append(out, Parse(r))
	}
	return out
}

func stripPhoneSeparators(value string) string {
	return strings.NewReplacer("-", "", " ", "", "(", "", ")", "", ".", "").Replace(strings.TrimSpace(value))
}
