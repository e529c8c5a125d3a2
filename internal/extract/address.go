package extract

import (
	"regexp"
	"strings"

	"github.com/sells-group/auction-intake/internal/model"
)

var (
	cityStateZip = regexp.MustCompile(`^(.*?)[,\s]+([A-Z]{2})\.?\s+(\d{5}(?:-\d{4})?)$`)
	phonePattern = regexp.MustCompile(`\(?\b\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`)
	leadingDigit = regexp.MustCompile(`^\d`)
)

// parseAddress splits a label_below block into address parts. The block is
// name, street, "City, ST 12345" and optionally a phone line, in any subset
// that keeps that order.
func parseAddress(block string) model.Address {
	var a model.Address
	var head []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		upper := strings.ToUpper(line)
		if m := cityStateZip.FindStringSubmatchIndex(upper); m != nil && a.City == "" {
			city := upper[m[2]:m[3]]
			if len(upper) == len(line) {
				city = line[m[2]:m[3]]
			}
			a.City = strings.TrimSpace(city)
			a.State = upper[m[4]:m[5]]
			a.Zip = upper[m[6]:m[7]]
			continue
		}
		if p := phonePattern.FindString(line); p != "" && a.Phone == "" && a.City != "" {
			a.Phone = p
			continue
		}
		if a.City == "" {
			head = append(head, line)
		}
	}

	switch len(head) {
	case 0:
	case 1:
		if leadingDigit.MatchString(head[0]) {
			a.Street = head[0]
		} else {
			a.Name = head[0]
		}
	default:
		a.Name = head[0]
		a.Street = strings.Join(head[1:], ", ")
	}
	return a
}

func addressFields(a model.Address) map[string]string {
	out := map[string]string{}
	for k, v := range map[string]string{
		"pickup_name":   a.Name,
		"pickup_street": a.Street,
		"pickup_city":   a.City,
		"pickup_state":  a.State,
		"pickup_zip":    a.Zip,
		"pickup_phone":  a.Phone,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
