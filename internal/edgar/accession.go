package edgar

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"edgarrag/internal/util"
)

var accessionPattern = regexp.MustCompile(`^[0-9-]{10,25}$`)

// SanitizeAccession validates an accession number before it is used in a
// cache path or URL. The canonical form is 10-2-6 digits.
func SanitizeAccession(accession string) (string, error) {
	accession = strings.TrimSpace(accession)
	if !accessionPattern.MatchString(accession) ||
		strings.ContainsAny(accession, `/\`) || strings.Contains(accession, "..") {
		return "", fmt.Errorf("%w: invalid accession number format %q", util.ErrValidation, accession)
	}
	return accession, nil
}

// PadCIK left-pads a CIK with zeros to 10 digits.
func PadCIK(cik string) string {
	cik = strings.TrimSpace(cik)
	if len(cik) >= 10 {
		return cik
	}
	return strings.Repeat("0", 10-len(cik)) + cik
}

// archiveCIK is the unpadded numeric form used in archive paths.
func archiveCIK(cik string) (string, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(cik), 10, 64)
	if err != nil || n < 0 {
		return "", fmt.Errorf("%w: invalid cik %q", util.ErrValidation, cik)
	}
	return strconv.FormatInt(n, 10), nil
}

func noDash(accession string) string {
	return strings.ReplaceAll(accession, "-", "")
}
