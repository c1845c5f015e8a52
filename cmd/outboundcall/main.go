// Command outboundcall places a feedback call to one customer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aymenesoualem/bookingagent/internal/config"
	"github.com/aymenesoualem/bookingagent/internal/logging"
	"github.com/aymenesoualem/bookingagent/internal/outbound"
	"github.com/aymenesoualem/bookingagent/internal/twilio"
)

func main() {
	number := flag.String("call", "", "customer phone number in E.164 format, e.g. +18005550199")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	flag.Parse()

	logging.Configure(logging.Config{Level: os.Getenv("APP_LOG_LEVEL"), Service: "outboundcall"})
	logger := logging.WithComponent("outboundcall")

	if *number == "" {
		fmt.Fprintln(os.Stderr, "usage: outboundcall -call +18005550199")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	if !cfg.TwilioConfigured() {
		logger.Fatal().Msg("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required")
	}
	client, err := twilio.New(twilio.Config{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		FromNumber: cfg.TwilioFromNumber,
		MaxRetries: cfg.TwilioMaxRetries,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("twilio client")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	res, err := outbound.NewCaller(client, cfg.PublicDomain, logger).Call(ctx, *number)
	if err != nil {
		logger.Fatal().Err(err).Msg("call failed")
	}
	fmt.Printf("call %s to %s: %s\n", res.CallSID, res.PhoneNumber, res.Status)
}
