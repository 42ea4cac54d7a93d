package matricula

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
)

// DecomposedImageURL holds the parts of a register URL that identify where
// its scanned images are stored.
type DecomposedImageURL struct {
	Country string
	Region  string
	Parish  string
	FondID  string
}

// Dir returns the relative storage directory country/region/parish/fond_id.
func (d DecomposedImageURL) Dir() string {
	return path.Join(d.Country, d.Region, d.Parish, d.FondID)
}

// DecomposeRegisterURL splits a parish register URL into its storage parts.
// Any ?pg= parameter is ignored.
func DecomposeRegisterURL(raw string) (DecomposedImageURL, error) {
	u := Parse(raw)
	if !u.IsParishRegister() {
		return DecomposedImageURL{}, fmt.Errorf("decompose %q: not a parish register url", raw)
	}
	return DecomposedImageURL{
		Country: u.Country(),
		Region:  u.Region(),
		Parish:  u.Parish(),
		FondID:  u.Register(),
	}, nil
}

// Scan file names are inconsistent ("_0001.jpg", "-01.jpg", ...); the page
// number is the digit run right before the extension.
var imagePageNumber = regexp.MustCompile(`(\d+)\.jpg$`)

// ImagePageNumber extracts the page number from an image URL.
func ImagePageNumber(imageURL string) (int, bool) {
	m := imagePageNumber.FindStringSubmatch(imageURL)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// ImageFileName returns page<N>_<hash>.jpg, or unknown_<hash>.jpg when the
// page number cannot be determined.
func ImageFileName(imageURL, hash string) string {
	if n, ok := ImagePageNumber(imageURL); ok {
		return fmt.Sprintf("page%d_%s.jpg", n, hash)
	}
	return fmt.Sprintf("unknown_%s.jpg", hash)
}
