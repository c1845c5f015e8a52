package notify

import (
	"context"
	"errors"
	"net"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aymenesoualem/bookingagent/internal/booking"
	"github.com/aymenesoualem/bookingagent/internal/twilio"
)

type recordingSMS struct {
	mu   sync.Mutex
	to   string
	body string
	err  error
}

func (r *recordingSMS) SendSMS(_ context.Context, to, body string) (*twilio.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.to, r.body = to, body
	if r.err != nil {
		return nil, r.err
	}
	return &twilio.Message{SID: "SM1"}, nil
}

type recordingMail struct {
	mu   sync.Mutex
	addr string
	from string
	to   []string
	msg  []byte
}

func (r *recordingMail) send(_ context.Context, addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addr, r.from, r.to, r.msg = addr, from, to, msg
	return nil
}

func confirmation() booking.Confirmation {
	return booking.Confirmation{
		BookingID:      7,
		HotelName:      "Hotel Atlas",
		RoomNumber:     "101",
		CustomerName:   "John Doe",
		CustomerNumber: "+212673375314",
		CheckIn:        time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
		CheckOut:       time.Date(2025, 1, 25, 0, 0, 0, 0, time.UTC),
	}
}

func TestBookingConfirmedSendsBothChannels(t *testing.T) {
	banner := filepath.Join(t.TempDir(), "banner.png")
	require.NoError(t, os.WriteFile(banner, []byte("\x89PNG\r\n\x1a\nfake"), 0o600))

	sms := &recordingSMS{}
	mail := &recordingMail{}
	svc := New(Config{
		HotelPhoneNumber: "+212522000000",
		FromEmail:        "bookings@example.com",
		EmailPassword:    "app-password",
		HotelGroupEmail:  "group@example.com",
		BannerPath:       banner,
	}, sms, zerolog.Nop(), nil).WithMailFunc(mail.send)

	ctx, cancel := context.WithCancel(context.Background())
	svc.BookingConfirmed(ctx, confirmation())
	cancel()
	svc.Wait()

	require.Equal(t, "+212522000000", sms.to)
	require.Contains(t, sms.body, "Hotel: Hotel Atlas\nRoom Number: 101\nCustomer: John Doe\nCheck-in: 2025-01-20\nCheck-out: 2025-01-25")

	require.Equal(t, "smtp.gmail.com:587", mail.addr)
	require.Equal(t, "bookings@example.com", mail.from)
	require.Equal(t, []string{"group@example.com"}, mail.to)
	raw := string(mail.msg)
	require.Contains(t, raw, "Subject: =?utf-8?q?Confirmation_de_r=C3=A9servation")
	require.Contains(t, raw, "multipart/related")
	require.Contains(t, raw, "Content-Id: <BookingBanner>")
	require.Contains(t, raw, "Content-Type: image/png")
	require.Contains(t, raw, "cid:BookingBanner")
}

func TestEmailWithoutBanner(t *testing.T) {
	msg, err := buildBookingEmail("a@example.com", "b@example.com", confirmation(), nil)
	require.NoError(t, err)
	raw := string(msg)
	require.NotContains(t, raw, "cid:BookingBanner")
	require.Equal(t, 1, strings.Count(raw, "Content-Type: text/html"))
}

func TestDisabledChannelsAreSkipped(t *testing.T) {
	sms := &recordingSMS{}
	svc := New(Config{}, sms, zerolog.Nop(), nil)
	svc.BookingConfirmed(context.Background(), confirmation())
	svc.Wait()
	require.Empty(t, sms.to)

	require.Error(t, svc.SendBookingEmail(context.Background(), confirmation()))
	require.Error(t, svc.SendBookingSMS(context.Background(), confirmation()))
}

func TestSMSFailureDoesNotBlockEmail(t *testing.T) {
	sms := &recordingSMS{err: errors.New("twilio down")}
	mail := &recordingMail{}
	svc := New(Config{
		HotelPhoneNumber: "+212522000000",
		FromEmail:        "bookings@example.com",
		EmailPassword:    "pw",
		HotelGroupEmail:  "group@example.com",
	}, sms, zerolog.Nop(), nil).WithMailFunc(mail.send)

	svc.BookingConfirmed(context.Background(), confirmation())
	svc.Wait()
	require.NotEmpty(t, mail.msg)
}

func TestWrapBase64LineLength(t *testing.T) {
	out := wrapBase64(make([]byte, 200))
	for _, line := range strings.Split(strings.TrimSpace(out), "\r\n") {
		require.LessOrEqual(t, len(line), 76)
	}
}

func TestStalledSMTPServerDoesNotBlockWait(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	var mu sync.Mutex
	var accepted []net.Conn
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			accepted = append(accepted, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range accepted {
			_ = c.Close()
		}
	})

	port := ln.Addr().(*net.TCPAddr).Port
	svc := New(Config{
		SMTPHost:        "127.0.0.1",
		SMTPPort:        port,
		FromEmail:       "bookings@example.com",
		EmailPassword:   "pw",
		HotelGroupEmail: "group@example.com",
		Timeout:         200 * time.Millisecond,
	}, nil, zerolog.Nop(), nil)

	svc.BookingConfirmed(context.Background(), confirmation())
	waited := make(chan struct{})
	go func() {
		svc.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(3 * time.Second):
		t.Fatalf("Wait still blocked after the notification timeout")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.Error(t, svc.SendBookingEmail(ctx, confirmation()))
}
