package email

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	md "wuyrush.io/plakat/models"
)

// OverdueDigest builds one mail listing every pin in ps as due for removal. ps is expected in the order it
// should be listed.
func OverdueDigest(from mail.Address, to []mail.Address, ps []md.Pin, now time.Time) *Mail {
	subject := "Plakat: 1 poster is overdue for removal"
	if len(ps) != 1 {
		subject = fmt.Sprintf("Plakat: %d posters are overdue for removal", len(ps))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "As of %s these posters should have been taken down:\n\n", now.Format("2006-01-02 15:04"))
	for _, p := range ps {
		fmt.Fprintf(&b, "- %s (remove by %s)\n", p.Title, p.ExpiresAt)
		if p.Description != nil && *p.Description != "" {
			fmt.Fprintf(&b, "  %s\n", *p.Description)
		}
		fmt.Fprintf(&b, "  https://www.openstreetmap.org/?mlat=%.5f&mlon=%.5f#map=18/%.5f/%.5f\n",
			p.Latitude, p.Longitude, p.Latitude, p.Longitude)
	}
	return &Mail{
		From:    from,
		To:      to,
		Subject: subject,
		Body:    b.String(),
	}
}

// ParseAddressList parses a comma separated list of addresses; an empty list is an error
func ParseAddressList(s string) ([]mail.Address, error) {
	as, err := mail.ParseAddressList(s)
	if err != nil {
		return nil, err
	}
	out := make([]mail.Address, 0, len(as))
	for _, a := range as {
		out = append(out, *a)
	}
	return out, nil
}
