package notify

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/aymenesoualem/bookingagent/internal/booking"
)

// BannerContentID is the Content-ID the email body references for its banner.
const BannerContentID = "BookingBanner"

var bookingEmail = template.Must(template.New("booking").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
{{- if .Banner }}
<img src="cid:{{ .ContentID }}" alt="Moravelo Hotel Group" style="width: 100%; max-width: 600px;">
{{- end }}
<h2>Nouvelle réservation confirmée</h2>
<table cellpadding="6">
<tr><td><strong>Hôtel</strong></td><td>{{ .HotelName }}</td></tr>
<tr><td><strong>Chambre</strong></td><td>{{ .RoomNumber }}</td></tr>
<tr><td><strong>Client</strong></td><td>{{ .CustomerName }}</td></tr>
<tr><td><strong>Arrivée</strong></td><td>{{ .CheckIn }}</td></tr>
<tr><td><strong>Départ</strong></td><td>{{ .CheckOut }}</td></tr>
<tr><td><strong>Référence</strong></td><td>#{{ .BookingID }}</td></tr>
</table>
<p>Moravelo Hotel Group</p>
</body>
</html>
`))

type emailView struct {
	Banner       bool
	ContentID    string
	BookingID    int64
	HotelName    string
	RoomNumber   string
	CustomerName string
	CheckIn      string
	CheckOut     string
}

func emailSubject(c booking.Confirmation) string {
	return fmt.Sprintf("Confirmation de réservation - %s, Chambre %s", c.HotelName, c.RoomNumber)
}

// buildBookingEmail renders a multipart/related message with the HTML body
// and, when banner is non-empty, the inline banner image.
func buildBookingEmail(from, to string, c booking.Confirmation, banner []byte) ([]byte, error) {
	var html bytes.Buffer
	err := bookingEmail.Execute(&html, emailView{
		Banner:       len(banner) > 0,
		ContentID:    BannerContentID,
		BookingID:    c.BookingID,
		HotelName:    c.HotelName,
		RoomNumber:   c.RoomNumber,
		CustomerName: c.CustomerName,
		CheckIn:      c.CheckIn.Format(booking.DateLayout),
		CheckOut:     c.CheckOut.Format(booking.DateLayout),
	})
	if err != nil {
		return nil, fmt.Errorf("render email body: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	htmlPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=utf-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, err
	}
	qp := quotedprintable.NewWriter(htmlPart)
	if _, err := qp.Write(html.Bytes()); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}

	if len(banner) > 0 {
		imgPart, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {http.DetectContentType(banner)},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Id":                {"<" + BannerContentID + ">"},
			"Content-Disposition":       {"inline"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := imgPart.Write([]byte(wrapBase64(banner))); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", emailSubject(c)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/related; boundary=%q\r\n", mw.Boundary())
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

// wrapBase64 encodes data in 76-column lines as RFC 2045 requires.
func wrapBase64(data []byte) string {
	enc := base64.StdEncoding.EncodeToString(data)
	var b strings.Builder
	for len(enc) > 76 {
		b.WriteString(enc[:76])
		b.WriteString("\r\n")
		enc = enc[76:]
	}
	b.WriteString(enc)
	b.WriteString("\r\n")
	return b.String()
}
