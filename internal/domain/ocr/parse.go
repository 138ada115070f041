package ocr

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rxflow/rxflow/internal/domain/order"
)

var (
	dosagePattern   = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?\s?(?:mg|mcg|g|ml|units?))\b`)
	quantityPattern = regexp.MustCompile(`(?i)(?:qty|quantity|#|disp(?:ense)?)[:.\s]*(\d+)`)
	refillPattern   = regexp.MustCompile(`(?i)refills?[:.\s]*(\d+)`)
)

// GuessMedication derives a best-effort structured reading from raw OCR text.
// The guess is advisory: the patient confirms or corrects it during
// verification, and the pharmacist can overwrite it again at review. Returns
// nil when the text yields nothing usable as a medication name.
func GuessMedication(text string) *order.MedicationDetails {
	lines := splitLines(text)
	if len(lines) == 0 {
		return nil
	}

	details := &order.MedicationDetails{}

	// The medication name is usually the first line that is not an
	// obvious header (doctor, patient, date lines).
	for _, line := range lines {
		if isHeaderLine(line) {
			continue
		}
		name := line
		if m := dosagePattern.FindStringIndex(line); m != nil {
			name = strings.TrimSpace(line[:m[0]])
		}
		if name != "" {
			details.Name = name
			break
		}
	}
	if details.Name == "" {
		return nil
	}

	if m := dosagePattern.FindStringSubmatch(text); m != nil {
		details.Dosage = strings.TrimSpace(m[1])
	}
	if m := quantityPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			details.Quantity = n
		}
	}
	if m := refillPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			details.RefillsAuthorized = &n
		}
	}

	// Dosing instructions: the first line that reads like a sig.
	for _, line := range lines {
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "sig") || strings.Contains(lower, "take ") ||
			strings.Contains(lower, "daily") || strings.Contains(lower, "twice") {
			instr := line
			details.Instructions = &instr
			break
		}
	}

	return details
}

func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func isHeaderLine(line string) bool {
	lower := strings.ToLower(line)
	for _, prefix := range []string{"dr.", "dr ", "doctor", "patient", "name:", "date", "dob", "rx#", "clinic", "hospital"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
