// Package notify tells the hotel about new bookings by SMS and email.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aymenesoualem/bookingagent/internal/booking"
	"github.com/aymenesoualem/bookingagent/internal/observability"
	"github.com/aymenesoualem/bookingagent/internal/policy"
	"github.com/aymenesoualem/bookingagent/internal/twilio"
)

const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

// SMSSender delivers a text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (*twilio.Message, error)
}

// MailFunc delivers msg over SMTP. It must give up once ctx is done.
type MailFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Config controls the hotel notification channels.
type Config struct {
	HotelPhoneNumber string
	SMTPHost         string
	SMTPPort         int
	FromEmail        string
	EmailPassword    string
	HotelGroupEmail  string
	BannerPath       string
	Timeout          time.Duration
}

// Service sends booking notifications in the background.
type Service struct {
	cfg      Config
	sms      SMSSender
	sendMail MailFunc
	banner   []byte
	logger   zerolog.Logger
	metrics  *observability.Metrics
	wg       sync.WaitGroup
}

// New builds the notifier. A nil sms or incomplete email settings disable
// the corresponding channel.
func New(cfg Config, sms SMSSender, logger zerolog.Logger, metrics *observability.Metrics) *Service {
	if cfg.SMTPHost == "" {
		cfg.SMTPHost = "smtp.gmail.com"
	}
	if cfg.SMTPPort <= 0 {
		cfg.SMTPPort = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	s := &Service{
		cfg:      cfg,
		sms:      sms,
		sendMail: sendMail,
		logger:   logger,
		metrics:  metrics,
	}

	if strings.TrimSpace(cfg.BannerPath) != "" {
		banner, err := os.ReadFile(cfg.BannerPath)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.BannerPath).Msg("email banner unavailable; sending without it")
		} else {
			s.banner = banner
		}
	}
	if !s.smsEnabled() {
		logger.Info().Msg("sms notifications disabled: twilio sender or HOTEL_PHONE_NUMBER missing")
	}
	if !s.emailEnabled() {
		logger.Info().Msg("email notifications disabled: FROM_EMAIL, EMAIL_PASSWORD or HOTEL_GROUP_EMAIL missing")
	}
	return s
}

// WithMailFunc replaces the SMTP transport.
func (s *Service) WithMailFunc(fn MailFunc) *Service {
	s.sendMail = fn
	return s
}

func (s *Service) smsEnabled() bool {
	return s.sms != nil && s.cfg.HotelPhoneNumber != ""
}

func (s *Service) emailEnabled() bool {
	return s.cfg.FromEmail != "" && s.cfg.EmailPassword != "" && s.cfg.HotelGroupEmail != ""
}

// BookingConfirmed notifies the hotel without blocking the caller. Delivery
// outlives ctx cancellation, bounded by the configured timeout.
func (s *Service) BookingConfirmed(ctx context.Context, c booking.Confirmation) {
	if !s.smsEnabled() && !s.emailEnabled() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
		defer cancel()

		if s.smsEnabled() {
			if err := s.SendBookingSMS(ctx, c); err != nil {
				s.metrics.NotificationFailed(ChannelSMS)
				s.logger.Error().Err(err).Int64("booking_id", c.BookingID).Msg("booking sms failed")
			}
		}
		if s.emailEnabled() {
			if err := s.SendBookingEmail(ctx, c); err != nil {
				s.metrics.NotificationFailed(ChannelEmail)
				s.logger.Error().Err(err).Int64("booking_id", c.BookingID).Msg("booking email failed")
			}
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// SendBookingSMS texts the booking details to the hotel phone.
func (s *Service) SendBookingSMS(ctx context.Context, c booking.Confirmation) error {
	if !s.smsEnabled() {
		return fmt.Errorf("sms channel disabled")
	}
	msg, err := s.sms.SendSMS(ctx, s.cfg.HotelPhoneNumber, bookingSMS(c))
	if err != nil {
		return err
	}
	s.logger.Info().
		Str("sid", msg.SID).
		Str("to", policy.MaskPhone(s.cfg.HotelPhoneNumber)).
		Int64("booking_id", c.BookingID).
		Msg("booking sms sent")
	return nil
}

// SendBookingEmail mails the HTML confirmation to the hotel group.
func (s *Service) SendBookingEmail(ctx context.Context, c booking.Confirmation) error {
	if !s.emailEnabled() {
		return fmt.Errorf("email channel disabled")
	}
	msg, err := buildBookingEmail(s.cfg.FromEmail, s.cfg.HotelGroupEmail, c, s.banner)
	if err != nil {
		return err
	}
	auth := smtp.PlainAuth("", s.cfg.FromEmail, s.cfg.EmailPassword, s.cfg.SMTPHost)
	addr := net.JoinHostPort(s.cfg.SMTPHost, strconv.Itoa(s.cfg.SMTPPort))
	if err := s.sendMail(ctx, addr, auth, s.cfg.FromEmail, []string{s.cfg.HotelGroupEmail}, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	s.logger.Info().Int64("booking_id", c.BookingID).Msg("booking email sent")
	return nil
}

func bookingSMS(c booking.Confirmation) string {
	return fmt.Sprintf("Room booked successfully!\nBooking Confirmation:\nHotel: %s\nRoom Number: %s\nCustomer: %s\nCheck-in: %s\nCheck-out: %s",
		c.HotelName, c.RoomNumber, c.CustomerName,
		c.CheckIn.Format(booking.DateLayout), c.CheckOut.Format(booking.DateLayout))
}

// sendMail is smtp.SendMail bounded by ctx: the dial honours cancellation
// and every later read or write fails once the deadline passes.
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer c.Close()
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
